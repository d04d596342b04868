package index

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Resolver maps stored (possibly stale) path prefixes to the current
// on-disk layout and validates that the result is a readable file.
// Resolution is a required step with no silent fallback: a stored path
// that does not land on an existing document is an error, because silent
// skips have previously caused systemic data loss.
type Resolver struct {
	prefixes []prefixRule
}

type prefixRule struct {
	from string
	to   string
}

// NewResolver creates a resolver from a stored-prefix → current-prefix map.
// Longer stored prefixes win when several match.
func NewResolver(prefixes map[string]string) *Resolver {
	r := &Resolver{prefixes: make([]prefixRule, 0, len(prefixes))}
	for from, to := range prefixes {
		r.prefixes = append(r.prefixes, prefixRule{from: from, to: to})
	}
	sort.Slice(r.prefixes, func(i, j int) bool {
		if len(r.prefixes[i].from) != len(r.prefixes[j].from) {
			return len(r.prefixes[i].from) > len(r.prefixes[j].from)
		}
		return r.prefixes[i].from < r.prefixes[j].from
	})
	return r
}

// Resolve rewrites the stored path and verifies it names a readable
// regular file. The rewrite is a pure function of the prefix table.
func (r *Resolver) Resolve(stored string) (string, error) {
	path := stored
	for _, rule := range r.prefixes {
		if strings.HasPrefix(stored, rule.from) {
			path = rule.to + strings.TrimPrefix(stored, rule.from)
			break
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", stored, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("resolve %q: %s is not a regular file", stored, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", stored, err)
	}
	f.Close()
	return path, nil
}
