// Package mf2 implements the microformats-2 JSON document shape used
// throughout the federation core: {type:[...], properties:{k:[v,...]}, children?:[...]}.
package mf2

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Object is a microformats-2 JSON document. Properties values are always
// arrays, per the invariant in SPEC_FULL.md section 3.
type Object struct {
	Type       []string            `json:"type"`
	Properties map[string][]any    `json:"properties"`
	Children   []*Object           `json:"children,omitempty"`
}

// New returns an empty h-entry object with an initialized properties map.
func New(types ...string) *Object {
	if len(types) == 0 {
		types = []string{"h-entry"}
	}
	return &Object{Type: types, Properties: map[string][]any{}}
}

// Valid reports whether o satisfies the Post Store's content invariant:
// non-empty type array, properties values all arrays (guaranteed by the
// Go type itself once unmarshaled through Object).
func (o *Object) Valid() bool {
	return o != nil && len(o.Type) > 0 && o.Properties != nil
}

// First returns the first value of property key, or nil if absent/empty.
func (o *Object) First(key string) any {
	v := o.Properties[key]
	if len(v) == 0 {
		return nil
	}
	return v[0]
}

// FirstString returns the first value of property key as a string, or "".
func (o *Object) FirstString(key string) string {
	v, _ := o.First(key).(string)
	return v
}

// Set replaces property key with a single-element array containing v.
func (o *Object) Set(key string, v any) {
	o.Properties[key] = []any{v}
}

// Add appends v to the (possibly absent) array at property key.
func (o *Object) Add(key string, v any) {
	o.Properties[key] = append(o.Properties[key], v)
}

// Remove deletes items deep-equal (by JSON representation) to any of values
// from property key; drops the key entirely if the array becomes empty.
func (o *Object) Remove(key string, values []any) {
	existing := o.Properties[key]
	if existing == nil {
		return
	}
	remove := make(map[string]bool, len(values))
	for _, v := range values {
		b, _ := json.Marshal(v)
		remove[string(b)] = true
	}
	kept := existing[:0]
	for _, v := range existing {
		b, _ := json.Marshal(v)
		if !remove[string(b)] {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(o.Properties, key)
		return
	}
	o.Properties[key] = kept
}

// Value implements driver.Valuer so an Object can be written directly as
// the jsonb content column.
func (o Object) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal mf2 object: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner so an Object can be read directly from the
// jsonb content column. The Post Store never takes the raw-string shortcut
// the original source sometimes did — every read decodes through here.
func (o *Object) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("mf2: cannot scan %T into Object", src)
	}
	return json.Unmarshal(b, o)
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// ExtractURLs walks o's properties (and nested children) recursively,
// collecting every referenced URL: direct url-typed arrays, href/src
// attributes found inside html sub-values, and any URL-shaped string leaf
// matched via a conservative regex. Duplicates are suppressed.
func ExtractURLs(o *Object) []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	var walkValue func(key string, v any)
	walkValue = func(key string, v any) {
		switch val := v.(type) {
		case string:
			if key == "url" || key == "href" || key == "src" {
				add(val)
				return
			}
			for _, m := range urlPattern.FindAllString(val, -1) {
				add(m)
			}
		case map[string]any:
			if html, ok := val["html"].(string); ok {
				for _, m := range urlPattern.FindAllString(html, -1) {
					add(m)
				}
			}
			for k, nested := range val {
				walkValue(k, nested)
			}
		case []any:
			for _, nested := range val {
				walkValue(key, nested)
			}
		}
	}

	var walk func(obj *Object)
	walk = func(obj *Object) {
		if obj == nil {
			return
		}
		for key, values := range obj.Properties {
			for _, v := range values {
				walkValue(key, v)
			}
		}
		for _, c := range obj.Children {
			walk(c)
		}
	}
	walk(o)
	return out
}
