// Package keys builds the Redis/LRU keys for sessions and cached image results.
package keys

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxSegmentLen = 64

// Session returns the key holding one kind of session state ("form", "vm").
func Session(kind, id string) string {
	id = strings.TrimSpace(id)
	seg := sanitize(id)
	if len(seg) > maxSegmentLen {
		seg = seg[:maxSegmentLen]
	}
	return fmt.Sprintf("session:%s:%s:h=%016x", sanitize(kind), seg, xxhash.Sum64String(id))
}

// Result returns the cache key of an image result. The cell set is order
// independent so extents snapping to the same cells share an entry.
func Result(source string, res int, cells []string, dateFrom, dateTo string, cloud int) string {
	sorted := append([]string(nil), cells...)
	sort.Strings(sorted)

	d := xxhash.New()
	for _, c := range sorted {
		_, _ = d.WriteString(c)
		_, _ = d.WriteString(",")
	}
	return fmt.Sprintf("result:%s:%d:cells=%016x:n=%d:%s:%s:cc=%d",
		sanitize(source), res, d.Sum64(), len(sorted), sanitize(dateFrom), sanitize(dateTo), cloud)
}

// Item returns the cache key of a single catalog item lookup.
func Item(source, itemID string) string {
	seg := sanitize(itemID)
	if len(seg) > maxSegmentLen {
		seg = seg[:maxSegmentLen]
	}
	return fmt.Sprintf("item:%s:%s:h=%016x", sanitize(source), seg, xxhash.Sum64String(itemID))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
