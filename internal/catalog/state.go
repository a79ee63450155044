package catalog

import (
	"slices"

	"github.com/heybooks/heybooks-sync/internal/domain"
)

// Listing names one subscribed view of the remote replicas.
type Listing int

const (
	// CatalogListing is the global catalog document.
	CatalogListing Listing = iota
	// ProfileListing is the signed-in user's profile document.
	ProfileListing
	// OwnerListing is another user's profile, shown read-only.
	OwnerListing

	listingCount
)

func (l Listing) String() string {
	switch l {
	case CatalogListing:
		return "catalog"
	case ProfileListing:
		return "profile"
	case OwnerListing:
		return "owner"
	default:
		return "unknown"
	}
}

// State is the local observable cache. Values are immutable snapshots:
// every change produces a new State.
type State struct {
	Books   []domain.Book
	Profile domain.User
	Owner   domain.User

	loads [listingCount]domain.LoadState
	empty [listingCount]bool
	index bookIndex
}

// Load returns the load state of l.
func (s State) Load(l Listing) domain.LoadState {
	if l < 0 || l >= listingCount {
		return domain.Idle
	}
	return s.loads[l]
}

// NoResults reports whether the last snapshot of l held no books.
func (s State) NoResults(l Listing) bool {
	if l < 0 || l >= listingCount {
		return false
	}
	return s.empty[l]
}

// Book looks up a catalog book by ID.
func (s State) Book(id string) (domain.Book, bool) {
	i, ok := s.index.byID[id]
	if !ok {
		return domain.Book{}, false
	}
	return s.Books[i], true
}

// BooksByOwner returns the catalog books owned by ownerID, in catalog order.
func (s State) BooksByOwner(ownerID string) []domain.Book {
	positions := s.index.byOwner[ownerID]
	out := make([]domain.Book, len(positions))
	for i, pos := range positions {
		out[i] = s.Books[pos]
	}
	return out
}

// InCategory returns the catalog books filed under category.
func (s State) InCategory(category string) []domain.Book {
	var out []domain.Book
	for _, b := range s.Books {
		if b.InCategory(category) {
			out = append(out, b)
		}
	}
	return out
}

func (s State) withLoad(l Listing, ls domain.LoadState) State {
	s.loads[l] = ls
	return s
}

func (s State) withBooks(books []domain.Book) State {
	s.Books = slices.Clone(books)
	s.index = buildIndex(s.Books)
	return s
}

// bookIndex maps IDs and owners to positions in State.Books.
type bookIndex struct {
	byID    map[string]int
	byOwner map[string][]int
}

func buildIndex(books []domain.Book) bookIndex {
	idx := bookIndex{
		byID:    make(map[string]int, len(books)),
		byOwner: make(map[string][]int),
	}
	for i, b := range books {
		if b.ID != "" {
			if _, dup := idx.byID[b.ID]; !dup {
				idx.byID[b.ID] = i
			}
		}
		idx.byOwner[b.OwnerID] = append(idx.byOwner[b.OwnerID], i)
	}
	return idx
}
