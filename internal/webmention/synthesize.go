package webmention

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"willnorris.com/go/microformats"

	"github.com/robida/federation/internal/mf2"
)

// SynthesizeEntry builds the h-entry persisted alongside an incoming
// webmention (section 4.4.1 step d): parse microformats from an HTML
// response, or walk a JSON microformats-2 tree, picking the h-entry that
// transitively references target; otherwise fall back to a minimal entry
// linkifying source.
func SynthesizeEntry(resp *http.Response, body []byte, source, target string) *mf2.Object {
	contentType := resp.Header.Get("Content-Type")
	base, _ := url.Parse(source)

	switch {
	case strings.Contains(contentType, "html"):
		if entry := synthesizeFromHTML(body, base, target); entry != nil {
			return entry
		}
	case strings.Contains(contentType, "json"):
		if entry := synthesizeFromJSON(body, target); entry != nil {
			return entry
		}
	}
	return minimalEntry(resp, source)
}

func synthesizeFromHTML(body []byte, base *url.URL, target string) *mf2.Object {
	data := microformats.Parse(strings.NewReader(string(body)), base)
	if data == nil {
		return nil
	}
	for _, item := range data.Items {
		if entryReferencesTarget(item, target) {
			return convertMicroformat(item)
		}
	}
	return nil
}

func entryReferencesTarget(item *microformats.Microformat, target string) bool {
	if item == nil {
		return false
	}
	if !hasType(item.Type, "h-entry") {
		for _, children := range item.Children {
			if entryReferencesTarget(children, target) {
				return true
			}
		}
		return false
	}
	b, _ := json.Marshal(item)
	return strings.Contains(string(b), target)
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func convertMicroformat(item *microformats.Microformat) *mf2.Object {
	obj := mf2.New(item.Type...)
	for k, values := range item.Properties {
		obj.Properties[k] = values
	}
	return obj
}

func synthesizeFromJSON(body []byte, target string) *mf2.Object {
	var obj mf2.Object
	if err := json.Unmarshal(body, &obj); err != nil || !obj.Valid() {
		return synthesizeFromJSONTree(body, target)
	}
	if referencesTarget(&obj, target) {
		return &obj
	}
	return nil
}

// synthesizeFromJSONTree handles a JSON document that is a tree of nested
// microformats-2 objects (e.g. a feed) rather than a single entry.
func synthesizeFromJSONTree(body []byte, target string) *mf2.Object {
	var items []mf2.Object
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapper struct {
			Items []mf2.Object `json:"items"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil
		}
		items = wrapper.Items
	}
	for i := range items {
		if referencesTarget(&items[i], target) {
			return &items[i]
		}
	}
	return nil
}

func referencesTarget(obj *mf2.Object, target string) bool {
	for _, url := range mf2.ExtractURLs(obj) {
		if url == target {
			return true
		}
	}
	return false
}

func minimalEntry(resp *http.Response, source string) *mf2.Object {
	obj := mf2.New("h-entry")
	obj.Set("content", map[string]any{
		"html":  fmt.Sprintf(`<a href="%s">%s</a>`, source, source),
		"value": source,
	})
	obj.Set("url", source)
	obj.Set("published", publishedFrom(resp).Format(time.RFC3339))
	return obj
}

func publishedFrom(resp *http.Response) time.Time {
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := time.Parse(time.RFC1123, lm); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
