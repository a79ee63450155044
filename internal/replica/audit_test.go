package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/domain"
)

func TestAudit_Consistent(t *testing.T) {
	dune := domain.Book{ID: "b1", Title: "Dune", OwnerID: "u1", Categories: []string{"Fantasy"}}
	emma := domain.Book{ID: "b2", Title: "Emma", OwnerID: "u2", Categories: []string{"Classics"}}

	report := Audit(
		[]domain.Book{dune, emma},
		[]domain.User{
			{UserID: "u1", ListOfBooks: []domain.Book{dune}},
			{UserID: "u2", ListOfBooks: []domain.Book{emma}},
		},
	)

	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.CatalogBooks)
	assert.Equal(t, 2, report.Profiles)
	assert.Equal(t, 2, report.ProfileBooks)
}

func TestAudit_Divergences(t *testing.T) {
	dune := domain.Book{ID: "b1", Title: "Dune", OwnerID: "u1"}
	emma := domain.Book{ID: "b2", Title: "Emma", OwnerID: "u1"}
	stale := emma
	stale.ThumbnailURL = "https://cdn.example/old.png"

	report := Audit(
		[]domain.Book{dune, emma},
		[]domain.User{{UserID: "u1", ListOfBooks: []domain.Book{stale}}},
	)

	require.False(t, report.Consistent())
	require.Len(t, report.Divergences, 3)

	// Sorted by book id; a changed thumbnail counts as a different element.
	assert.Equal(t, "b1", report.Divergences[0].Book.ID)
	assert.True(t, report.Divergences[0].InCatalog)
	assert.Equal(t, "b2", report.Divergences[1].Book.ID)
	assert.Equal(t, "b2", report.Divergences[2].Book.ID)
	assert.NotEqual(t, report.Divergences[1].InCatalog, report.Divergences[2].InCatalog)
}

func TestAudit_UnknownOwner(t *testing.T) {
	orphan := domain.Book{ID: "b9", OwnerID: "ghost"}

	report := Audit([]domain.Book{orphan}, nil)

	require.Len(t, report.Divergences, 1)
	assert.True(t, report.Divergences[0].InCatalog)
}
