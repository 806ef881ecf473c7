package middleware

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"
)

// DocumentETag derives an entity tag from a document's identity and version.
// Every successful save advances the version, so the tag changes with the content.
func DocumentETag(collection, id string, version int64) string {
	sum := md5.Sum([]byte(collection + "/" + id))
	return fmt.Sprintf(`"%x-%d"`, sum[:8], version)
}

// CheckNotModified sets the ETag header and reports whether the client's
// If-None-Match already names it, in which case 304 has been written.
func CheckNotModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// etagMatches checks a comma-separated If-None-Match list, ignoring weak prefixes
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
