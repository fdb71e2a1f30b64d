package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	s3DataDir   = "snippets/"
	s3ExpiryDir = "expiry/"
)

// normalizeS3Prefix trims leading slashes and guarantees a single trailing
// slash on non-empty prefixes.
func normalizeS3Prefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func applyS3Prefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	// Ensure there is exactly one slash between prefix and name
	if strings.HasSuffix(prefix, "/") {
		return prefix + name
	}
	return prefix + "/" + name
}

// s3ExpiryKey builds <expiry/><20-digit unix nanos>/<id>. Zero padding makes
// lexical order (the order S3 lists keys in) equal to expiry order.
func s3ExpiryKey(expiresAt time.Time, id string) string {
	return fmt.Sprintf("%s%020d/%s", s3ExpiryDir, expiryNanos(expiresAt), id)
}

// parseS3ExpiryKey is the inverse of s3ExpiryKey, applied after the store
// prefix has been stripped.
func parseS3ExpiryKey(key string) (uint64, string, error) {
	rest, ok := strings.CutPrefix(key, s3ExpiryDir)
	if !ok {
		return 0, "", fmt.Errorf("not an expiry key: %q", key)
	}
	stamp, id, ok := strings.Cut(rest, "/")
	if !ok || len(stamp) != 20 || id == "" {
		return 0, "", fmt.Errorf("malformed expiry key: %q", key)
	}
	nanos, err := strconv.ParseUint(stamp, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed expiry key %q: %w", key, err)
	}
	return nanos, id, nil
}

func s3DataKey(id string) string {
	return s3DataDir + id + ".json"
}
