package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/target/clipscore/internal/domain/model"
)

// OwnerHeader carries the caller's owner id.
const OwnerHeader = "X-Owner-ID"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimitOffset parses common pagination params and clamps to sane bounds.
// - defLimit: default limit when not specified
// - maxLimit: maximum allowed limit (values > maxLimit are clamped to maxLimit).
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	if maxLimit < 1 {
		maxLimit = 1
	}

	lim := parseIntQuery(r, "limit", defLimit)
	off := parseIntQuery(r, "offset", 0)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	if off < 0 {
		off = 0
	}
	return lim, off
}

// ownerFromRequest returns the X-Owner-ID header, or the guest owner when absent.
func ownerFromRequest(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
		return owner
	}
	return model.GuestOwnerID
}

// requestedOwner returns the owner query parameter, else the X-Owner-ID header, else "".
func requestedOwner(r *http.Request) string {
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		return owner
	}
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}
