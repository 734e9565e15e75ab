package locator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a locator document (JSON, or YAML by extension) and
// normalizes it into a Store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locators: %w", err)
	}
	return Parse(data, isYAML(path))
}

// Parse decodes and normalizes a locator document.
func Parse(data []byte, yamlDoc bool) (*Store, error) {
	var raw any
	if yamlDoc {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse locators yaml: %w", err)
		}
	} else if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse locators json: %w", err)
		}
	}
	return NormalizeSharedSteps(raw), nil
}

// Encode renders the store in the canonical nested shape.
func Encode(s *Store, yamlDoc bool) ([]byte, error) {
	if yamlDoc {
		return yaml.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

// Set records one selector in the locator file at path, creating the file
// if needed. JSON documents are edited in place so unrelated keys and
// ordering survive; YAML documents are rewritten canonically.
func Set(path, pagePath string, bucket Bucket, name, selector string) error {
	cleaned, ok := NormalizeSelector(selector)
	if !ok {
		return fmt.Errorf("selector for %q is blank", name)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("locator name is blank")
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read locators: %w", err)
	}

	if isYAML(path) {
		s, err := Parse(data, true)
		if err != nil {
			return err
		}
		next, _ := s.With(pagePath, bucket, name, cleaned)
		out, err := Encode(next, true)
		if err != nil {
			return err
		}
		return writeAtomic(path, out)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte(`{"pages":{}}`)
	}
	key := normalizePathKey(pagePath)
	var jsonPath string
	doc := gjson.ParseBytes(data)
	if !doc.Get("pages").Exists() && doc.Get("locators").Exists() {
		if bucket != BucketLocators {
			return fmt.Errorf("legacy locator file only holds the %q bucket; run normalize first", BucketLocators)
		}
		jsonPath = "locators." + escapePathKey(key) + "." + escapePathKey(name)
	} else {
		jsonPath = "pages." + escapePathKey(key) + "." + string(bucket) + "." + escapePathKey(name)
	}

	out, err := sjson.SetBytes(data, jsonPath, cleaned)
	if err != nil {
		return fmt.Errorf("set %s: %w", jsonPath, err)
	}
	return writeAtomic(path, out)
}

// escapePathKey escapes the gjson/sjson path metacharacters in one key.
func escapePathKey(k string) string {
	r := strings.NewReplacer(`\`, `\\`, ".", `\.`, ":", `\:`, "*", `\*`, "?", `\?`)
	return r.Replace(k)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".locators-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
