// Package token defines the token entities issued by the authorization server
// (access tokens, refresh tokens, authorization codes), the open parameter bag
// they carry, and the repository interfaces used to persist them.
package token

// DataBag is an immutable, insertion-ordered string-keyed map used for
// open-ended protocol parameters (scope, audience, custom extensions).
// Every mutation returns a new value; the receiver is never modified.
type DataBag struct {
	keys   []string
	values map[string]string
}

// NewDataBag returns an empty bag.
func NewDataBag() DataBag {
	return DataBag{}
}

// With returns a copy of the bag with key set to value. Setting an existing
// key replaces its value but keeps its original position.
func (b DataBag) With(key, value string) DataBag {
	next := b.clone()
	if _, exists := next.values[key]; !exists {
		next.keys = append(next.keys, key)
	}
	next.values[key] = value
	return next
}

// WithAll returns a copy of the bag with every pair applied in order.
func (b DataBag) WithAll(pairs ...string) DataBag {
	next := b
	for i := 0; i+1 < len(pairs); i += 2 {
		next = next.With(pairs[i], pairs[i+1])
	}
	return next
}

// Without returns a copy of the bag with key removed.
func (b DataBag) Without(key string) DataBag {
	if _, exists := b.values[key]; !exists {
		return b
	}
	next := DataBag{
		keys:   make([]string, 0, len(b.keys)-1),
		values: make(map[string]string, len(b.values)-1),
	}
	for _, k := range b.keys {
		if k == key {
			continue
		}
		next.keys = append(next.keys, k)
		next.values[k] = b.values[k]
	}
	return next
}

// Get returns the value for key and whether it is present.
func (b DataBag) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// GetOr returns the value for key, or fallback when absent.
func (b DataBag) GetOr(key, fallback string) string {
	if v, ok := b.values[key]; ok {
		return v
	}
	return fallback
}

// Has reports whether key is present.
func (b DataBag) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (b DataBag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Len returns the number of entries.
func (b DataBag) Len() int {
	return len(b.keys)
}

// Map returns the entries as a plain map. The result is a copy.
func (b DataBag) Map() map[string]string {
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

func (b DataBag) clone() DataBag {
	next := DataBag{
		keys:   make([]string, len(b.keys)),
		values: make(map[string]string, len(b.values)),
	}
	copy(next.keys, b.keys)
	for k, v := range b.values {
		next.values[k] = v
	}
	return next
}
