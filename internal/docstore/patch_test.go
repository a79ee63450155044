package docstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

type item struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func mustPatch(t *testing.T) func(Patch, error) Patch {
	return func(p Patch, err error) Patch {
		t.Helper()
		require.NoError(t, err)
		return p
	}
}

func items(t *testing.T, doc Document, field string) []item {
	t.Helper()
	var out []item
	if raw, ok := doc[field]; ok {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func TestApply_UnionIsIdempotent(t *testing.T) {
	dune := item{ID: "b1", Title: "Dune", Tags: []string{"sf"}}
	union := mustPatch(t)(ArrayUnion("list", dune))

	once, err := Apply(nil, union)
	require.NoError(t, err)
	twice, err := Apply(once, union)
	require.NoError(t, err)

	assert.Equal(t, []item{dune}, items(t, twice, "list"))
}

func TestApply_UnionComparesStructurally(t *testing.T) {
	doc := Document{"list": json.RawMessage(`[ {"title":"Dune","id":"b1","tags":["sf"]} ]`)}

	out, err := Apply(doc, mustPatch(t)(ArrayUnion("list", item{ID: "b1", Title: "Dune", Tags: []string{"sf"}})))
	require.NoError(t, err)

	assert.Len(t, items(t, out, "list"), 1)
}

func TestApply_RemoveIsIdempotent(t *testing.T) {
	dune := item{ID: "b1", Title: "Dune"}
	hobbit := item{ID: "b2", Title: "Hobbit"}
	doc, err := Apply(nil,
		mustPatch(t)(ArrayUnion("list", dune)),
		mustPatch(t)(ArrayUnion("list", hobbit)))
	require.NoError(t, err)

	remove := mustPatch(t)(ArrayRemove("list", dune))
	once, err := Apply(doc, remove)
	require.NoError(t, err)
	twice, err := Apply(once, remove)
	require.NoError(t, err)

	assert.Equal(t, []item{hobbit}, items(t, twice, "list"))
}

func TestApply_RemoveAbsentIsNoop(t *testing.T) {
	doc := Document{"name": json.RawMessage(`"Ada"`)}

	out, err := Apply(doc, mustPatch(t)(ArrayRemove("list", item{ID: "b9"})))
	require.NoError(t, err)

	assert.NotContains(t, out, "list")
	assert.JSONEq(t, `"Ada"`, string(out["name"]))
}

func TestApply_RemoveRequiresFullEquality(t *testing.T) {
	doc, err := Apply(nil, mustPatch(t)(ArrayUnion("list", item{ID: "b1", Title: "Dune"})))
	require.NoError(t, err)

	out, err := Apply(doc, mustPatch(t)(ArrayRemove("list", item{ID: "b1", Title: "Dune (edited)"})))
	require.NoError(t, err)

	assert.Len(t, items(t, out, "list"), 1)
}

func TestApply_ReplaceKeyed(t *testing.T) {
	old := item{ID: "b1", Title: "Dune"}
	other := item{ID: "b2", Title: "Hobbit"}
	doc, err := Apply(nil,
		mustPatch(t)(ArrayUnion("list", old)),
		mustPatch(t)(ArrayUnion("list", other)))
	require.NoError(t, err)

	updated := item{ID: "b1", Title: "Dune", Tags: []string{"cover"}}
	out, err := Apply(doc, mustPatch(t)(ArrayReplace("list", "id", updated)))
	require.NoError(t, err)

	assert.Equal(t, []item{updated, other}, items(t, out, "list"))
}

func TestApply_ReplaceMissingDoesNotAppend(t *testing.T) {
	doc, err := Apply(nil, mustPatch(t)(ArrayUnion("list", item{ID: "b2"})))
	require.NoError(t, err)

	out, err := Apply(doc, mustPatch(t)(ArrayReplace("list", "id", item{ID: "b1"})))
	require.NoError(t, err)

	assert.Equal(t, []item{{ID: "b2"}}, items(t, out, "list"))
}

func TestApply_ReplaceCollapsesDuplicates(t *testing.T) {
	doc := Document{"list": json.RawMessage(`[{"id":"b1","title":"a"},{"id":"b1","title":"b"}]`)}

	out, err := Apply(doc, mustPatch(t)(ArrayReplace("list", "id", item{ID: "b1", Title: "c"})))
	require.NoError(t, err)

	assert.Equal(t, []item{{ID: "b1", Title: "c"}}, items(t, out, "list"))
}

type ownedItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"userID"`
}

func TestApply_GuardRejectsForeignElements(t *testing.T) {
	doc := Document{"list": json.RawMessage(`[{"id":"b1","title":"Dune","userID":"alice"}]`)}
	guard := &Guard{Key: "id", OwnerField: "userID", Owner: "bob"}
	guarded := func(p Patch, err error) Patch {
		p = mustPatch(t)(p, err)
		p.Guard = guard
		return p
	}

	tests := []struct {
		name    string
		patch   Patch
		wantErr error
		want    []ownedItem
	}{
		{
			name:    "replace another owner's element",
			patch:   guarded(ArrayReplace("list", "id", ownedItem{ID: "b1", Title: "pwned", Owner: "bob"})),
			wantErr: domainerrors.ErrForbidden,
		},
		{
			name:    "union reusing another owner's key",
			patch:   guarded(ArrayUnion("list", ownedItem{ID: "b1", Title: "Dune", Owner: "bob"})),
			wantErr: domainerrors.ErrForbidden,
		},
		{
			name:    "value owned by someone else",
			patch:   guarded(ArrayUnion("list", ownedItem{ID: "b2", Owner: "alice"})),
			wantErr: domainerrors.ErrForbidden,
		},
		{
			name:  "union of a fresh key",
			patch: guarded(ArrayUnion("list", ownedItem{ID: "b2", Title: "Emma", Owner: "bob"})),
			want:  []ownedItem{{ID: "b1", Title: "Dune", Owner: "alice"}, {ID: "b2", Title: "Emma", Owner: "bob"}},
		},
		{
			name:  "remove of an absent own element",
			patch: guarded(ArrayRemove("list", ownedItem{ID: "b1", Title: "Dune", Owner: "bob"})),
			want:  []ownedItem{{ID: "b1", Title: "Dune", Owner: "alice"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(doc, tt.patch)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var got []ownedItem
			require.NoError(t, json.Unmarshal(out["list"], &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_GuardAllowsOwnReplace(t *testing.T) {
	doc := Document{"list": json.RawMessage(`[{"id":"b1","title":"Dune","userID":"alice"}]`)}
	p := mustPatch(t)(ArrayReplace("list", "id", ownedItem{ID: "b1", Title: "Dune (2021)", Owner: "alice"}))
	p.Guard = &Guard{Key: "id", OwnerField: "userID", Owner: "alice"}

	out, err := Apply(doc, p)
	require.NoError(t, err)

	assert.JSONEq(t, `[{"id":"b1","title":"Dune (2021)","userID":"alice"}]`, string(out["list"]))
}

func TestApply_SetAndOriginalUntouched(t *testing.T) {
	doc := Document{"bio": json.RawMessage(`"old"`)}

	out, err := Apply(doc, mustPatch(t)(SetField("bio", "new")))
	require.NoError(t, err)

	assert.JSONEq(t, `"new"`, string(out["bio"]))
	assert.JSONEq(t, `"old"`, string(doc["bio"]))
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   Document
		patch Patch
	}{
		{"array op on scalar", Document{"bio": json.RawMessage(`"x"`)}, Patch{Field: "bio", Op: OpArrayUnion, Value: json.RawMessage(`1`)}},
		{"unknown op", nil, Patch{Field: "x", Op: "increment", Value: json.RawMessage(`1`)}},
		{"missing field", nil, Patch{Op: OpSet, Value: json.RawMessage(`1`)}},
		{"replace without key", nil, Patch{Field: "x", Op: OpArrayReplace, Value: json.RawMessage(`{}`)}},
		{"replace value lacks key", Document{"x": json.RawMessage(`[]`)}, Patch{Field: "x", Op: OpArrayReplace, Key: "id", Value: json.RawMessage(`{"title":"x"}`)}},
		{"invalid json", nil, Patch{Field: "x", Op: OpSet, Value: json.RawMessage(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.doc, tt.patch)
			assert.ErrorIs(t, err, domainerrors.ErrValidation)
		})
	}
}

func TestAddress(t *testing.T) {
	a, err := ParseAddress("users/u1")
	require.NoError(t, err)
	assert.Equal(t, Address{Collection: "users", ID: "u1"}, a)
	assert.Equal(t, "users/u1", a.String())

	for _, bad := range []string{"users", "users/", "/u1", "users/u1/extra", "users/.."} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestDocument_EncodeDecode(t *testing.T) {
	doc, err := Encode(item{ID: "b1", Title: "Dune"})
	require.NoError(t, err)
	assert.Contains(t, doc, "title")

	var back item
	require.NoError(t, doc.Decode(&back))
	assert.Equal(t, "Dune", back.Title)

	_, err = Encode([]int{1})
	assert.Error(t, err)
}
