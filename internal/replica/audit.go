package replica

import (
	"slices"
	"strings"

	"github.com/heybooks/heybooks-sync/internal/domain"
)

// Divergence is a book present in one replica but not the other.
// Catalog writes update both replicas without a transaction, so a failed
// second write leaves one of these behind.
type Divergence struct {
	Book domain.Book
	// InCatalog is true when only the global catalog holds the book.
	InCatalog bool
}

// Report summarizes a consistency check over both replicas.
type Report struct {
	CatalogBooks int
	Profiles     int
	ProfileBooks int
	Divergences  []Divergence
}

// Consistent reports whether every book is held by both replicas.
func (r Report) Consistent() bool {
	return len(r.Divergences) == 0
}

// Audit compares the global catalog with the owners' profiles.
// Books match on structural equality, as the array operations do.
func Audit(catalog []domain.Book, profiles []domain.User) Report {
	report := Report{CatalogBooks: len(catalog), Profiles: len(profiles)}

	owned := make(map[string][]domain.Book, len(profiles))
	for _, p := range profiles {
		owned[p.UserID] = p.ListOfBooks
		report.ProfileBooks += len(p.ListOfBooks)
	}

	for _, b := range catalog {
		if !containsBook(owned[b.OwnerID], b) {
			report.Divergences = append(report.Divergences, Divergence{Book: b, InCatalog: true})
		}
	}
	for _, p := range profiles {
		for _, b := range p.ListOfBooks {
			if !containsBook(catalog, b) {
				report.Divergences = append(report.Divergences, Divergence{Book: b})
			}
		}
	}

	slices.SortStableFunc(report.Divergences, func(a, b Divergence) int {
		return strings.Compare(a.Book.ID, b.Book.ID)
	})
	return report
}

func containsBook(books []domain.Book, b domain.Book) bool {
	return slices.ContainsFunc(books, b.Equal)
}
