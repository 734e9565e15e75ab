package crawler

import (
	"net/url"
	"path"
	"strings"
)

// assetExtensions are never crawled: binary and static files.
var assetExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
	".ico": true, ".bmp": true, ".avif": true, ".tif": true, ".tiff": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true, ".xml": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true, ".bz2": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".csv": true, ".txt": true, ".rtf": true,
	".mp3": true, ".mp4": true, ".wav": true, ".webm": true, ".avi": true, ".mov": true, ".ogg": true,
	".exe": true, ".dmg": true, ".apk": true, ".iso": true,
}

// IsAsset reports whether the URL path ends in a denylisted extension.
func IsAsset(u *url.URL) bool {
	return assetExtensions[strings.ToLower(path.Ext(u.Path))]
}

// normalizeURL resolves raw against base and canonicalizes it for use as a
// seen-set key: lower-case scheme and host, default port dropped, fragment
// removed, empty path as "/". The query is kept.
func normalizeURL(base *url.URL, raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u, true
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}

// followable reports whether raw resolves to a same-origin, non-asset URL
// and returns its normalized form.
func followable(base *url.URL, raw string) (string, bool) {
	u, ok := normalizeURL(base, raw)
	if !ok || !sameOrigin(base, u) || IsAsset(u) {
		return "", false
	}
	return u.String(), true
}

// PathOf returns the path of an absolute URL with query and fragment
// stripped. Unparseable input is returned as-is.
func PathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
