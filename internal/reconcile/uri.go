package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityRef is the parsed form of a candidate identifier: either a full
// canonical URI ("<prefix>/<entity>/<id>") or a bare integer id.
type EntityRef struct {
	// EntityType is empty when the reference was a bare integer.
	EntityType string

	// ID is the authority row id.
	ID int64
}

// BuildURI renders the canonical id URI for one row. prefix carries no
// trailing slash.
func BuildURI(prefix, entityType string, id int64) string {
	return fmt.Sprintf("%s/%s/%d", strings.TrimRight(prefix, "/"), entityType, id)
}

// ParseRef parses s against the configured identifier-space prefix. Accepted
// forms are the full canonical URI and a bare decimal integer; anything else
// is ErrMalformedID.
func ParseRef(prefix, s string) (EntityRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EntityRef{}, fmt.Errorf("%w: empty id", ErrMalformedID)
	}

	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return EntityRef{ID: id}, nil
	}

	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" || !strings.HasPrefix(s, prefix+"/") {
		return EntityRef{}, fmt.Errorf("%w: %q is not under identifier space %q", ErrMalformedID, s, prefix)
	}

	rest := strings.TrimPrefix(s, prefix+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return EntityRef{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("%w: %q has a non-integer id", ErrMalformedID, s)
	}
	return EntityRef{EntityType: parts[0], ID: id}, nil
}
