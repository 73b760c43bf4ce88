package item

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const idLength = 16

// dateLayouts are tried in order when resolving an entry date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// zoneOffsets resolves the zone abbreviations found in RFC 822 style dates.
// time.Parse gives abbreviations it does not know a zero offset.
var zoneOffsets = map[string]int{
	"UT": 0, "UTC": 0, "GMT": 0, "Z": 0,
	"EST": -5, "EDT": -4, "CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6, "PST": -8, "PDT": -7,
	"AKST": -9, "AKDT": -8, "HST": -10,
	"BST": 1, "CET": 1, "CEST": 2, "EET": 2, "EEST": 3,
	"JST": 9, "AEST": 10, "AEDT": 11,
}

// MakeID derives the opaque external identifier of an item.
// Truncation means ids may collide; deduplication is keyed on link instead.
func MakeID(source, link, title string) string {
	sum := sha256.Sum256([]byte(source + "||" + link + "||" + title))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Normalize folds text for keyword matching: lower case, accents removed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		return strings.ToLower(text)
	}
	return out
}

// MatchesKeywords reports whether text contains any of keywords, ignoring
// case and accents. An empty keyword list matches everything.
func MatchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := Normalize(text)
	for _, kw := range keywords {
		if strings.Contains(haystack, Normalize(kw)) {
			return true
		}
	}
	return false
}

// PickDate resolves the publication time of an entry. The first non-empty of
// IsoDate, PubDate and Date is parsed; ok is false when none is present or the
// value cannot be parsed.
func PickDate(entry RawEntry) (t time.Time, ok bool) {
	raw := firstNonEmpty(entry.IsoDate, entry.PubDate, entry.Date)
	if raw == "" {
		return time.Time{}, false
	}
	return ParseDate(raw)
}

// ParseDate parses a feed timestamp in any of the common feed formats. The
// result is in UTC with millisecond precision, matching the rendered dateISO.
// Dates carrying an unknown zone abbreviation are rejected.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		t, ok := resolveZone(t)
		if !ok {
			return time.Time{}, false
		}
		return t.UTC().Truncate(time.Millisecond), true
	}
	return time.Time{}, false
}

// resolveZone applies the offset of a zone abbreviation that time.Parse
// recorded with a zero offset.
func resolveZone(t time.Time) (time.Time, bool) {
	name, offset := t.Zone()
	if offset != 0 || name == "" {
		return t, true
	}
	hours, ok := zoneOffsets[name]
	if !ok {
		return t, false
	}
	return t.Add(-time.Duration(hours) * time.Hour), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
