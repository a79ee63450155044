// Package search provides full-text search over the cached catalog using Bleve.
package search

import (
	"github.com/heybooks/heybooks-sync/internal/domain"
)

// Document is the indexed form of one catalog book.
type Document struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Authors     string   `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	PageCount   int      `json:"page_count,omitempty"`
}

// FromBook converts a catalog book.
func FromBook(b domain.Book) *Document {
	return &Document{
		ID:          b.ID,
		Title:       b.Title,
		Authors:     b.Authors,
		Description: b.Description,
		Categories:  b.Categories,
		OwnerID:     b.OwnerID,
		PageCount:   b.PageCount,
	}
}

// ToMap converts the document to a map whose keys match the index mapping.
// Bleve would otherwise use the capitalized Go field names.
func (d *Document) ToMap() map[string]any {
	m := map[string]any{
		"id":    d.ID,
		"title": d.Title,
	}
	if d.Authors != "" {
		m["authors"] = d.Authors
	}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if len(d.Categories) > 0 {
		m["categories"] = d.Categories
	}
	if d.OwnerID != "" {
		m["owner_id"] = d.OwnerID
	}
	if d.PageCount > 0 {
		m["page_count"] = d.PageCount
	}
	return m
}
