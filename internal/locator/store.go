package locator

import (
	"sort"
	"strings"
)

// Bucket is one of the named locator categories of a page.
type Bucket string

const (
	BucketFields   Bucket = "fields"
	BucketButtons  Bucket = "buttons"
	BucketLinks    Bucket = "links"
	BucketLocators Bucket = "locators"
)

// Buckets lists every bucket in canonical order.
var Buckets = []Bucket{BucketFields, BucketButtons, BucketLinks, BucketLocators}

// ParseBucket accepts a bucket name, case-insensitively.
func ParseBucket(s string) (Bucket, bool) {
	for _, b := range Buckets {
		if strings.EqualFold(string(b), strings.TrimSpace(s)) {
			return b, true
		}
	}
	return "", false
}

// Identity describes how to assert that the browser is on a given page.
type Identity struct {
	Kind     string `json:"kind" yaml:"kind"` // role, text or locator
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Role     string `json:"role,omitempty" yaml:"role,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Page holds the locators registered for one page path.
type Page struct {
	Identity *Identity         `json:"identity,omitempty" yaml:"identity,omitempty"`
	Fields   map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Buttons  map[string]string `json:"buttons,omitempty" yaml:"buttons,omitempty"`
	Links    map[string]string `json:"links,omitempty" yaml:"links,omitempty"`
	Locators map[string]string `json:"locators,omitempty" yaml:"locators,omitempty"`
}

// Bucket returns the named bucket of the page, which may be nil.
func (p Page) Bucket(b Bucket) map[string]string {
	switch b {
	case BucketFields:
		return p.Fields
	case BucketButtons:
		return p.Buttons
	case BucketLinks:
		return p.Links
	case BucketLocators:
		return p.Locators
	}
	return nil
}

func (p *Page) setBucket(b Bucket, m map[string]string) {
	switch b {
	case BucketFields:
		p.Fields = m
	case BucketButtons:
		p.Buttons = m
	case BucketLinks:
		p.Links = m
	case BucketLocators:
		p.Locators = m
	}
}

// Store maps page paths to their locators. A Store is treated as an
// immutable snapshot: With returns a modified copy.
type Store struct {
	Version int             `json:"version,omitempty" yaml:"version,omitempty"`
	Pages   map[string]Page `json:"pages" yaml:"pages"`
}

// PageKeys returns the registered page paths in sorted order.
func (s *Store) PageKeys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Pages))
	for k := range s.Pages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BestPageKey returns the stored page key that best matches path: an exact
// match, else the longest key that is a segment-aligned prefix of path.
// "/" only ever matches "/".
func (s *Store) BestPageKey(path string) (string, bool) {
	if s == nil || len(s.Pages) == 0 {
		return "", false
	}
	key := normalizePathKey(path)
	if _, ok := s.Pages[key]; ok {
		return key, true
	}
	best := ""
	for candidate := range s.Pages {
		if candidate == "/" {
			continue
		}
		if matchesPrefix(key, candidate) && len(candidate) > len(best) {
			best = candidate
		}
	}
	return best, best != ""
}

// Resolve looks up a selector for name in bucket on the page that best
// matches pagePath. There is no fallback across buckets.
func (s *Store) Resolve(pagePath string, bucket Bucket, name string) (selector, pageKey string, ok bool) {
	pageKey, found := s.BestPageKey(pagePath)
	if !found {
		return "", "", false
	}
	selector, ok = s.Pages[pageKey].Bucket(bucket)[name]
	return selector, pageKey, ok
}

// Identity returns the identity descriptor of the page best matching
// pagePath, if any.
func (s *Store) Identity(pagePath string) (*Identity, bool) {
	pageKey, found := s.BestPageKey(pagePath)
	if !found {
		return nil, false
	}
	id := s.Pages[pageKey].Identity
	return id, id != nil
}

// With returns a copy of the store with one selector set. The selector is
// normalized first; a blank selector leaves the store unchanged and
// reports false.
func (s *Store) With(pagePath string, bucket Bucket, name, selector string) (*Store, bool) {
	cleaned, ok := NormalizeSelector(selector)
	if !ok || strings.TrimSpace(name) == "" {
		return s, false
	}
	next := &Store{Pages: map[string]Page{}}
	if s != nil {
		next.Version = s.Version
		for k, v := range s.Pages {
			next.Pages[k] = v
		}
	}
	key := normalizePathKey(pagePath)
	page := next.Pages[key]
	old := page.Bucket(bucket)
	m := make(map[string]string, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[name] = cleaned
	page.setBucket(bucket, m)
	next.Pages[key] = page
	return next, true
}

func matchesPrefix(route, prefix string) bool {
	if route == prefix {
		return true
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(route, prefix)
}

// normalizePathKey reduces a page path or URL to "/segment/..." without a
// query, fragment or trailing slash.
func normalizePathKey(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
