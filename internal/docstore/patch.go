package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Op is a field-level write operation.
type Op string

const (
	// OpSet overwrites the field.
	OpSet Op = "set"
	// OpArrayUnion appends the value unless a structurally equal element exists.
	OpArrayUnion Op = "arrayUnion"
	// OpArrayRemove removes every structurally equal element.
	OpArrayRemove Op = "arrayRemove"
	// OpArrayReplace replaces every element whose Key property equals the value's.
	// Nothing is appended when no element matches.
	OpArrayReplace Op = "arrayReplace"
)

// Patch is one field write.
type Patch struct {
	Field string          `json:"field"`
	Op    Op              `json:"op"`
	Value json.RawMessage `json:"value"`
	Key   string          `json:"key,omitempty"`

	// Guard is set by the server and never travels on the wire.
	Guard *Guard `json:"-"`
}

// Guard restricts an array patch to one owner's elements. The value must
// carry Owner in OwnerField, and a union or replace may not touch an existing
// element with the same Key that belongs to someone else. It is checked
// against the stored array inside the backend's read-modify-write.
type Guard struct {
	Key        string
	OwnerField string
	Owner      string
}

// Validate checks the patch shape before it reaches a backend.
func (p Patch) Validate() error {
	if p.Field == "" {
		return domainerrors.Validation("patch field is required")
	}
	switch p.Op {
	case OpSet, OpArrayUnion, OpArrayRemove:
	case OpArrayReplace:
		if p.Key == "" {
			return domainerrors.Validation("arrayReplace needs a key")
		}
	default:
		return domainerrors.Validationf("unknown patch op %q", p.Op)
	}
	if !json.Valid(p.Value) {
		return domainerrors.Validationf("patch value for %q is not valid JSON", p.Field)
	}
	if p.Guard != nil && (p.Guard.Key == "" || p.Guard.OwnerField == "") {
		return domainerrors.Validation("patch guard needs a key and an owner field")
	}
	return nil
}

// SetField builds an OpSet patch.
func SetField(field string, v any) (Patch, error) {
	return newPatch(field, OpSet, "", v)
}

// ArrayUnion builds an OpArrayUnion patch.
func ArrayUnion(field string, v any) (Patch, error) {
	return newPatch(field, OpArrayUnion, "", v)
}

// ArrayRemove builds an OpArrayRemove patch.
func ArrayRemove(field string, v any) (Patch, error) {
	return newPatch(field, OpArrayRemove, "", v)
}

// ArrayReplace builds an OpArrayReplace patch matching elements on key.
func ArrayReplace(field, key string, v any) (Patch, error) {
	return newPatch(field, OpArrayReplace, key, v)
}

func newPatch(field string, op Op, key string, v any) (Patch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Patch{}, fmt.Errorf("encode %s value for %q: %w", op, field, err)
	}
	return Patch{Field: field, Op: op, Value: raw, Key: key}, nil
}

// Apply returns doc with patches applied in order. doc is not modified; a nil
// doc is treated as empty. Array operations compare elements structurally, so
// applying the same union or remove twice yields the same document.
func Apply(doc Document, patches ...Patch) (Document, error) {
	out := doc.Clone()
	for _, p := range patches {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := out[p.Field]; !ok && (p.Op == OpArrayRemove || p.Op == OpArrayReplace) {
			continue
		}
		next, err := applyOne(out[p.Field], p)
		if err != nil {
			return nil, err
		}
		out[p.Field] = next
	}
	return out, nil
}

func applyOne(current json.RawMessage, p Patch) (json.RawMessage, error) {
	if p.Op == OpSet {
		return p.Value, nil
	}

	elems, err := decodeArray(current, p.Field)
	if err != nil {
		return nil, err
	}
	value, err := canonical(p.Value)
	if err != nil {
		return nil, err
	}
	if p.Guard != nil {
		if err := p.Guard.check(elems, p); err != nil {
			return nil, err
		}
	}

	var result []json.RawMessage
	switch p.Op {
	case OpArrayUnion:
		result = elems
		if indexOf(elems, value) < 0 {
			result = append(result, p.Value)
		}
	case OpArrayRemove:
		result = make([]json.RawMessage, 0, len(elems))
		for _, e := range elems {
			if c, _ := canonical(e); c != value {
				result = append(result, e)
			}
		}
	case OpArrayReplace:
		result, err = replaceKeyed(elems, p)
		if err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", p.Field, err)
	}
	return raw, nil
}

func replaceKeyed(elems []json.RawMessage, p Patch) ([]json.RawMessage, error) {
	want, ok := keyOf(p.Value, p.Key)
	if !ok {
		return nil, domainerrors.Validationf("arrayReplace value has no %q property", p.Key)
	}

	result := make([]json.RawMessage, 0, len(elems))
	replaced := false
	for _, e := range elems {
		k, ok := keyOf(e, p.Key)
		if !ok || k != want {
			result = append(result, e)
			continue
		}
		// Duplicates sharing the key collapse into the single replacement.
		if !replaced {
			result = append(result, p.Value)
			replaced = true
		}
	}
	return result, nil
}

func (g *Guard) check(elems []json.RawMessage, p Patch) error {
	owner, err := json.Marshal(g.Owner)
	if err != nil {
		return fmt.Errorf("encode guard owner: %w", err)
	}
	if got, ok := keyOf(p.Value, g.OwnerField); !ok || got != string(owner) {
		return domainerrors.Forbiddenf("%q may only hold elements owned by the caller", p.Field)
	}
	if p.Op == OpArrayRemove {
		return nil
	}
	key, ok := keyOf(p.Value, g.Key)
	if !ok {
		return nil
	}
	for _, e := range elems {
		if k, ok := keyOf(e, g.Key); !ok || k != key {
			continue
		}
		if o, _ := keyOf(e, g.OwnerField); o != string(owner) {
			return domainerrors.Forbiddenf("element %s of %q belongs to another owner", key, p.Field)
		}
	}
	return nil
}

func decodeArray(raw json.RawMessage, field string) ([]json.RawMessage, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, domainerrors.Validationf("field %q is not an array", field)
	}
	return elems, nil
}

func indexOf(elems []json.RawMessage, canon string) int {
	for i, e := range elems {
		if c, err := canonical(e); err == nil && c == canon {
			return i
		}
	}
	return -1
}

func keyOf(raw json.RawMessage, key string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	c, err := canonical(v)
	return c, err == nil
}

// canonical renders raw JSON so that structurally equal values compare equal:
// object keys sorted, insignificant whitespace removed, numbers kept verbatim.
func canonical(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return string(out), nil
}
