package api

import (
	"encoding/json"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Document access rules. Reads are public. Profiles are written only by
// their owner. The catalog accepts only array patches on the book list, from
// verified accounts, and only for books the caller owns.

func authorizeSet(caller *Caller, addr docstore.Address) error {
	switch {
	case addr.Collection == domain.UsersCollection:
		return requireOwner(caller, addr.ID)
	case isCatalog(addr):
		return domainerrors.Forbidden("the catalog cannot be overwritten")
	default:
		return domainerrors.Forbiddenf("collection %q is not writable", addr.Collection)
	}
}

func authorizeUpdate(caller *Caller, addr docstore.Address, patches []docstore.Patch) error {
	switch {
	case addr.Collection == domain.UsersCollection:
		return requireOwner(caller, addr.ID)
	case isCatalog(addr):
		if !caller.Account.EmailVerified {
			return domainerrors.EmailNotVerified("verify your email address before editing the catalog")
		}
		for _, p := range patches {
			if err := authorizeCatalogPatch(caller, p); err != nil {
				return err
			}
		}
		return nil
	default:
		return domainerrors.Forbiddenf("collection %q is not writable", addr.Collection)
	}
}

func authorizeCatalogPatch(caller *Caller, p docstore.Patch) error {
	if p.Field != domain.FieldListOfBooks {
		return domainerrors.Forbiddenf("catalog field %q is not writable", p.Field)
	}
	if p.Op == docstore.OpSet {
		return domainerrors.Forbidden("the catalog book list only accepts array operations")
	}

	var book struct {
		OwnerID string `json:"userID"`
	}
	if err := json.Unmarshal(p.Value, &book); err != nil {
		return domainerrors.Validation("catalog entries must be book objects")
	}
	if book.OwnerID != caller.Account.ID {
		return domainerrors.Forbidden("you can only change your own books")
	}
	return nil
}

// guardCatalogPatches binds catalog patches to the caller so the store
// rejects, atomically with the write, any change to another owner's book.
func guardCatalogPatches(caller *Caller, addr docstore.Address, patches []docstore.Patch) []docstore.Patch {
	if !isCatalog(addr) {
		return patches
	}
	guard := &docstore.Guard{Key: domain.BookKey, OwnerField: domain.FieldUserID, Owner: caller.Account.ID}
	out := make([]docstore.Patch, len(patches))
	for i, p := range patches {
		p.Guard = guard
		out[i] = p
	}
	return out
}

func requireOwner(caller *Caller, userID string) error {
	if caller.Account.ID != userID {
		return domainerrors.Forbidden("you can only change your own profile")
	}
	return nil
}

func isCatalog(addr docstore.Address) bool {
	return addr.Collection == domain.CatalogCollection && addr.ID == domain.CatalogDocument
}
