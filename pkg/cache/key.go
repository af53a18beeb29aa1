package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "kobo-export:page"

// CacheKey represents a unique identifier for a cached page.
type CacheKey struct {
	// Host is the API host including port (e.g., "kf.kobotoolbox.org")
	Host string

	// Path is the request path (e.g., "/api/v2/project-views/pv1/assets/")
	Path string

	// QueryParams are the query parameters (e.g., {"limit": "100", "start": "100"})
	QueryParams url.Values

	// Scope is a fingerprint of the credential the page was fetched with
	Scope string
}

// KeyForURL builds the key for a page URL fetched with token.
func KeyForURL(rawURL, token string) (CacheKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse page url: %w", err)
	}
	return CacheKey{
		Host:        u.Host,
		Path:        u.Path,
		QueryParams: u.Query(),
		Scope:       TokenScope(token),
	}, nil
}

// TokenScope returns a short, non-reversible fingerprint of token.
func TokenScope(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// String generates a deterministic cache key string.
// Format: kobo-export:page:host/path:query1=val1:scope=abcdef012345
//
// Example:
//
//	kobo-export:page:kf.kobotoolbox.org/api/v2/project-views/pv1/assets:start=100:scope=9f86d081884c
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	// Host and path (normalize slashes)
	target := strings.Trim(k.Host+"/"+strings.Trim(k.Path, "/"), "/")
	if target != "" {
		parts = append(parts, target)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}
