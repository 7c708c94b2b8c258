// Package fields normalizes the vendor's loosely-typed field keys and labels
// into canonical, typed observations. Vendor payloads address data points as
// "field1".."field15" but spell the keys inconsistently ("Field3", "FIELD03");
// everything here works on the canonical lowercase form.
package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var fieldRe = regexp.MustCompile(`(?i)^field(\d{1,2})$`)

// KnownFields is the universe of canonical field keys (field1..field15).
// Keys outside this universe never become entities.
var KnownFields = func() []string {
	ks := make([]string, 0, 15)
	for i := 1; i <= 15; i++ {
		ks = append(ks, fmt.Sprintf("field%d", i))
	}
	return ks
}()

var knownSet = func() map[string]bool {
	m := make(map[string]bool, len(KnownFields))
	for _, k := range KnownFields {
		m[k] = true
	}
	return m
}()

// Canonical normalizes a vendor field key. The trimmed input must match
// field<digits> case-insensitively; the numeric suffix is re-rendered
// without leading zeros ("Field03" -> "field3"). Returns ok=false for
// anything else.
func Canonical(key string) (string, bool) {
	m := fieldRe.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return "field" + strconv.Itoa(n), true
}

// IsKnown reports whether a canonical key is within the known universe.
func IsKnown(canonical string) bool {
	return knownSet[canonical]
}

// CanonicalValues re-keys a decoded last-values mapping by canonical field
// key, dropping entries whose key does not canonicalize.
func CanonicalValues(lastValues map[string]any) map[string]any {
	out := make(map[string]any, len(lastValues))
	for k, v := range lastValues {
		if ck, ok := Canonical(k); ok {
			out[ck] = v
		}
	}
	return out
}

// DeriveLabels builds the field -> label map for one channel record.
//
// Labels come from top-level string-valued record entries whose key
// canonicalizes ("Field1": "Temperature"). Canonical keys present in the
// last-values mapping but not labeled act as their own label, as long as
// they are within the known universe. If nothing at all was derived, the
// first 10 known fields are offered as their own labels so the setup flow
// always has something to present.
func DeriveLabels(record map[string]any, lastValues map[string]any) map[string]string {
	labels := make(map[string]string)
	for k, v := range record {
		ck, ok := Canonical(k)
		if !ok {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
			labels[ck] = strings.TrimSpace(s)
		}
	}

	for ck := range CanonicalValues(lastValues) {
		if _, labeled := labels[ck]; !labeled && IsKnown(ck) {
			labels[ck] = ck
		}
	}

	if len(labels) == 0 {
		for _, k := range KnownFields[:10] {
			labels[k] = k
		}
	}
	return labels
}
