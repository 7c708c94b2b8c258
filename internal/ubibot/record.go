package ubibot

import (
	"encoding/json"
	"strconv"
)

// Channel is a raw channel record as returned by the vendor's list endpoint.
// The vendor sends arbitrary extra keys alongside the documented ones, and
// "last_values" arrives either as a JSON-encoded string or as an object, so
// the record stays loosely typed and all normalization happens in the
// accessor methods below rather than at each use site.
type Channel map[string]any

// ID returns the channel identifier, preferring "channel_id" over "id".
// Returns "" when neither is present.
func (ch Channel) ID() string {
	if s := asString(ch["channel_id"]); s != "" {
		return s
	}
	return asString(ch["id"])
}

// Name returns the human-readable channel name, falling back to the id.
func (ch Channel) Name() string {
	if s, ok := ch["name"].(string); ok && s != "" {
		return s
	}
	return ch.ID()
}

// ProductID returns the vendor product identifier, or "".
func (ch Channel) ProductID() string {
	return asString(ch["product_id"])
}

// LastValues returns the decoded last-values mapping. A string blob is
// decoded, a malformed or missing blob yields an empty map — never an error,
// so one bad channel cannot abort a whole list fetch.
func (ch Channel) LastValues() map[string]any {
	switch lv := ch["last_values"].(type) {
	case map[string]any:
		return lv
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(lv), &m); err != nil || m == nil {
			return map[string]any{}
		}
		return m
	default:
		return map[string]any{}
	}
}

// normalizeLastValues replaces a string-encoded last_values blob with its
// decoded form in place, so later snapshot reads are cheap and uniform.
func (ch Channel) normalizeLastValues() {
	if _, ok := ch["last_values"]; ok {
		ch["last_values"] = ch.LastValues()
	}
}

// asString renders a scalar JSON value as a string the way the vendor's ids
// appear: strings pass through, numbers lose any ".0" suffix, everything
// else is "".
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
