// Package domain holds the catalog entities shared by the replicas, the local cache and the emulator.
package domain

import (
	"slices"
	"strings"
)

// Store layout. These names are the stable identifiers in the remote document store.
const (
	CatalogCollection = "data"
	CatalogDocument   = "books"
	UsersCollection   = "users"

	FieldListOfBooks = "listOfBooks"
	FieldName        = "name"
	FieldEmail       = "email"
	FieldBio         = "bio"
	FieldImage       = "image"
	FieldUserID      = "userID"

	// BookKey is the property that identifies a Book inside an array field.
	BookKey = "id"
)

// Categories lists the categories a Book may be filed under.
var Categories = []string{
	"Action and Adventure",
	"Classics",
	"Comic Book",
	"Detective and Mystery",
	"Fantasy",
	"Romance",
	"Historical",
	"Science Fiction",
	"Thriller",
	"Biography",
	"Horror",
}

// Book is a catalog entry. The same value is stored in the global catalog and in its owner's profile.
type Book struct {
	ID           string   `json:"id" validate:"required"`
	Title        string   `json:"title" validate:"notblank,max=300"`
	Authors      string   `json:"authors" validate:"notblank,max=300"`
	Categories   []string `json:"categories" validate:"unique,dive,category"`
	Description  string   `json:"description" validate:"max=20000"`
	PageCount    int      `json:"pageCount" validate:"gte=0"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	OwnerID      string   `json:"userID" validate:"required"`
}

// Equal reports structural equality over every field. Two books are the same
// array element in a replica only if Equal holds.
func (b Book) Equal(o Book) bool {
	return b.ID == o.ID &&
		b.Title == o.Title &&
		b.Authors == o.Authors &&
		slices.Equal(b.Categories, o.Categories) &&
		b.Description == o.Description &&
		b.PageCount == o.PageCount &&
		b.ThumbnailURL == o.ThumbnailURL &&
		b.OwnerID == o.OwnerID
}

// Clone returns a copy that shares no slices with b.
func (b Book) Clone() Book {
	b.Categories = slices.Clone(b.Categories)
	return b
}

// InCategory reports whether the book is filed under category, ignoring case.
func (b Book) InCategory(category string) bool {
	return slices.ContainsFunc(b.Categories, func(c string) bool {
		return strings.EqualFold(c, category)
	})
}

// User is the profile document stored at users/{userID}.
type User struct {
	UserID      string `json:"userID"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Bio         string `json:"bio"`
	Image       string `json:"image"`
	ListOfBooks []Book `json:"listOfBooks"`
}

// Identity is the authenticated principal as reported by the identity provider.
type Identity struct {
	UserID        string `json:"userID"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

// Action selects which array operation a catalog mutation performs.
type Action int

const (
	// Add unions the book into both replicas.
	Add Action = iota
	// Remove removes the book from both replicas.
	Remove
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// LoadState tracks one listing or auth flow. Idle -> Loading -> Loaded or Error.
type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
	Error
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
