package domain

import (
	"regexp"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// BookForm is the add-book input as typed by the user.
// Picture, title, authors, categories and page count are mandatory.
type BookForm struct {
	Title       string   `json:"title" validate:"notblank,max=300"`
	Authors     string   `json:"authors" validate:"notblank,max=300"`
	Categories  []string `json:"categories" validate:"min=1,unique,dive,category"`
	Description string   `json:"description" validate:"max=20000"`
	PageCount   string   `json:"pageCount" validate:"notblank,number"`
	Picture     []byte   `json:"picture" validate:"min=1"`
	PictureName string   `json:"pictureName"`
}

// Book builds the catalog entry for a validated form.
func (f BookForm) Book(bookID, ownerID string) Book {
	pages, _ := strconv.Atoi(strings.TrimSpace(f.PageCount))
	return Book{
		ID:          bookID,
		Title:       strings.TrimSpace(f.Title),
		Authors:     strings.TrimSpace(f.Authors),
		Categories:  append([]string(nil), f.Categories...),
		Description: NormalizeDescription(f.Description),
		PageCount:   pages,
		OwnerID:     ownerID,
	}
}

// Registration is the sign-up input.
type Registration struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=1024"`
}

// Credentials is the sign-in input.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordReset is the forgot-password input.
type PasswordReset struct {
	Email string `json:"email" validate:"required,email"`
}

// ProfileDetails is the edit-profile input.
type ProfileDetails struct {
	Name string `json:"name" validate:"notblank,max=100"`
	Bio  string `json:"bio" validate:"max=500"`
}

var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// NormalizeDescription converts pasted HTML descriptions to Markdown.
// Plain text is only trimmed.
func NormalizeDescription(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !htmlTagPattern.MatchString(strings.ToLower(s)) {
		return s
	}

	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(markdown)
}
