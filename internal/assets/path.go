// Package assets moves user-supplied images into the remote binary store.
package assets

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Asset categories.
const (
	CategoryProfilePicture = "profilePicture"
	CategoryBookPicture    = "bookPictures"
)

var (
	unsafeChars     = regexp.MustCompile(`[^a-z0-9._-]+`)
	multipleHyphens = regexp.MustCompile(`-+`)
)

// Path is the location of one asset: {ownerID}/{category}/{fileName}.
type Path struct {
	OwnerID  string
	Category string
	FileName string
}

// ProfilePicturePath is where identity's profile picture named fileName lives.
func ProfilePicturePath(identity domain.Identity, fileName string) Path {
	return Path{OwnerID: identity.UserID, Category: CategoryProfilePicture, FileName: SanitizeFileName(fileName)}
}

// BookPicturePath is where a book picture named fileName owned by identity lives.
func BookPicturePath(identity domain.Identity, fileName string) Path {
	return Path{OwnerID: identity.UserID, Category: CategoryBookPicture, FileName: SanitizeFileName(fileName)}
}

// String renders the slash-separated key.
func (p Path) String() string {
	return p.OwnerID + "/" + p.Category + "/" + p.FileName
}

// Validate rejects unknown categories and empty or traversing segments.
func (p Path) Validate() error {
	if p.Category != CategoryProfilePicture && p.Category != CategoryBookPicture {
		return domainerrors.Validationf("unknown asset category %q", p.Category)
	}
	for _, seg := range []string{p.OwnerID, p.FileName} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\\x00") {
			return domainerrors.Validationf("invalid asset path %q", p.String())
		}
	}
	return nil
}

// ParsePath parses an {ownerID}/{category}/{fileName} key.
func ParsePath(key string) (Path, error) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) != 3 {
		return Path{}, domainerrors.Validationf("invalid asset path %q", key)
	}
	p := Path{OwnerID: parts[0], Category: parts[1], FileName: parts[2]}
	return p, p.Validate()
}

// SanitizeFileName reduces a user-supplied name to a safe lowercase ASCII
// file name, keeping the extension. Empty results get a random UUID name.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)
	name = strings.ToLower(name)
	name = unsafeChars.ReplaceAllString(name, "-")
	name = multipleHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")

	if name == "" {
		return uuid.NewString()
	}
	return name
}
