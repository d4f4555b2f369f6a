// Package lock provides the mutual-exclusion scopes admission runs under:
// one key per standing zone, one key per seat for seated zones.
package lock

import (
	"context"
	"sort"
	"strings"
)

// Locker acquires every key or none. The returned release func is safe to
// call once.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

func ZoneKey(eventID, zoneName string) string {
	return "zone:" + eventID + ":" + zoneName
}

func SeatKey(eventID, zoneName, label string) string {
	return "seat:" + eventID + ":" + zoneName + ":" + label
}

// SeatKeys builds one key per seat. Labels are expected normalised.
func SeatKeys(eventID, zoneName string, labels []string) []string {
	keys := make([]string, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, SeatKey(eventID, zoneName, strings.ToUpper(l)))
	}
	return keys
}

// ordered sorts and dedupes keys so overlapping scopes are always taken in
// the same order.
func ordered(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
