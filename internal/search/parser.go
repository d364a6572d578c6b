package search

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"mcscout/internal/shared"
)

// ParseMatch normalizes one raw match into a ServerRecord. It never fails:
// missing or misshaped fields fall back to nil or empty values.
func ParseMatch(raw json.RawMessage) shared.ServerRecord {
	m := decodeObject(raw)

	rec := shared.ServerRecord{
		Hash: hashString(m["hash"]),
		IP:   stringOr(m["ip_str"], ""),
		Port: int(intOr(m["port"], 0)),
	}

	if loc, ok := m["location"].(map[string]any); ok {
		rec.City = optString(loc["city"])
		rec.Country = optString(loc["country_name"])
	}
	rec.Version = optString(m["version"])

	mc, _ := m["minecraft"].(map[string]any)
	if players, ok := mc["players"].(map[string]any); ok {
		rec.PlayersOnline = optInt(players["online"])
		rec.PlayersMax = optInt(players["max"])
	}
	rec.Description = description(mc["description"])

	return rec
}

// ParseMatches maps ParseMatch over a page set, keeping order.
func ParseMatches(raws []json.RawMessage) []shared.ServerRecord {
	out := make([]shared.ServerRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, ParseMatch(raw))
	}
	return out
}

// FilterActive drops servers that report zero players online. Servers with
// an unknown player count are kept.
func FilterActive(records []shared.ServerRecord) []shared.ServerRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.PlayersOnline != nil && *r.PlayersOnline == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// description resolves the MOTD: an object yields its text field, a string
// is used as is, anything else is empty.
func description(v any) string {
	switch d := v.(type) {
	case map[string]any:
		return stringOr(d["text"], "")
	case string:
		return d
	}
	return ""
}

func decodeObject(raw json.RawMessage) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

// hashString keeps the exact digits of numeric hashes. A missing or null
// hash becomes "" rather than a placeholder word, and booleans use Go's
// lowercase spelling.
func hashString(v any) string {
	switch h := v.(type) {
	case string:
		return h
	case json.Number:
		return h.String()
	case bool:
		return strconv.FormatBool(h)
	}
	return ""
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func optString(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

func optInt(v any) *int64 {
	n, ok := toInt(v)
	if !ok {
		return nil
	}
	return &n
}

func intOr(v any, def int64) int64 {
	if n, ok := toInt(v); ok {
		return n
	}
	return def
}

func toInt(v any) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}
