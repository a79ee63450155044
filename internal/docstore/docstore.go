// Package docstore is the boundary to the remote document store.
//
// A store holds JSON documents addressed by collection and document ID. Writers
// send field-level patches whose array operations have set semantics; readers
// either fetch once or watch a document and receive every newer snapshot.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Address identifies one document.
type Address struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// String renders the address as collection/id.
func (a Address) String() string {
	return a.Collection + "/" + a.ID
}

// Validate rejects empty segments and segments containing a slash.
func (a Address) Validate() error {
	for _, seg := range []string{a.Collection, a.ID} {
		if seg == "" || strings.ContainsAny(seg, "/\x00") || seg == "." || seg == ".." {
			return domainerrors.Validationf("invalid document address %q", a.String())
		}
	}
	return nil
}

// ParseAddress parses collection/id.
func ParseAddress(s string) (Address, error) {
	c, id, _ := strings.Cut(s, "/")
	a := Address{Collection: c, ID: id}
	return a, a.Validate()
}

// Document is a JSON object keyed by field name.
type Document map[string]json.RawMessage

// Encode converts any JSON-object-shaped value into a Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: not an object: %w", err)
	}
	return doc, nil
}

// Decode unmarshals the document into dst.
func (d Document) Decode(dst any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Clone returns a shallow copy; raw values are never mutated in place.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Snapshot is the state of one document at one version.
type Snapshot struct {
	Address Address  `json:"address"`
	Exists  bool     `json:"exists"`
	Version uint64   `json:"version"`
	Data    Document `json:"data,omitempty"`
}

// Decode unmarshals the snapshot data into dst. Missing documents leave dst untouched.
func (s Snapshot) Decode(dst any) error {
	if !s.Exists {
		return nil
	}
	return s.Data.Decode(dst)
}

// Event is delivered to watchers: either a snapshot or an asynchronous error.
// Errors do not end the watch.
type Event struct {
	Snapshot Snapshot
	Err      error
}

// Backend is implemented by every document store.
//
// Update creates a missing document before applying the patches. Every
// successful write increments the document version by one. Watch delivers the
// current snapshot first, then later ones; the channel closes when ctx ends.
type Backend interface {
	Get(ctx context.Context, addr Address) (Snapshot, error)
	Set(ctx context.Context, addr Address, doc Document) error
	Update(ctx context.Context, addr Address, patches ...Patch) error
	Watch(ctx context.Context, addr Address) (<-chan Event, error)
}
