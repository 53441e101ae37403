// Package store implements the append-or-patch tabular row store (one
// per session, one master) described by spec.md §4.4. Rows are kept as
// generic columnar maps rather than a single rigid struct so that
// unknown/newer columns round-trip untouched, matching the "schema is
// append-/widen-only" invariant.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is a Reel's lifecycle stage. Transitions are monotone along
// discovered -> hydrated -> analyzed -> (accepted | rejected); accepted
// never regresses within a session (enforced by SessionStore.Upsert).
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusHydrated   Status = "hydrated"
	StatusAnalyzed   Status = "analyzed"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
)

var statusRank = map[Status]int{
	StatusDiscovered: 0,
	StatusHydrated:   1,
	StatusAnalyzed:   2,
	StatusAccepted:   3,
	StatusRejected:   3,
}

// USDecision is the session's belief about a reel owner's country.
type USDecision string

const (
	USUnknown USDecision = "unknown"
	USPositive USDecision = "US"
	USNegative USDecision = "non-US"
)

// RelevanceDecision is the session's belief about keyword relevance.
type RelevanceDecision string

const (
	RelevanceUnknown   RelevanceDecision = "unknown"
	RelevanceRelevant  RelevanceDecision = "relevant"
	RelevanceIrrelevant RelevanceDecision = "irrelevant"
)

// FixedColumns lists every field spec.md §3 names for Reel, in the order
// they're written to a freshly created session log. Columns discovered
// later (from a newer writer version, or from another session merged in)
// are appended after these, sorted, so the header stays stable.
var FixedColumns = []string{
	"url", "shortcode", "keyword", "caption",
	"owner_handle", "owner_name", "is_verified",
	"is_video", "product_type", "views", "taken_at_iso", "thumbnail", "location_name",
	"transcript",
	"us_decision", "us_reason",
	"relevance_decision",
	"status",
	"row_created_at", "row_updated_at",
}

// Reel is the typed view of one row, per spec.md §3. Nullable fields are
// pointers; a nil pointer round-trips to an empty CSV cell.
type Reel struct {
	URL       string
	Shortcode string
	Keyword   string
	Caption   string

	OwnerHandle *string
	OwnerName   *string
	IsVerified  *bool

	IsVideo      *bool
	ProductType  *string
	Views        *int64
	TakenAtISO   *string
	Thumbnail    *string
	LocationName *string

	Transcript *string

	USDecision USDecision
	USReason   string

	RelevanceDecision RelevanceDecision

	Status Status

	RowCreatedAt string
	RowUpdatedAt string
}

// Row is the generic columnar representation used for storage: every
// value is a string, and a column absent from the map is null. Row is
// what SessionStore actually keeps and writes; Reel is a convenience
// view for callers that know the fixed schema.
type Row map[string]string

// ToRow renders r as a Row. A nil pointer field becomes an explicit
// empty cell; a zero-valued enum is written as its default ("unknown"
// for the decisions, "discovered" for status).
func (r Reel) ToRow() Row {
	row := Row{
		"url":                 r.URL,
		"shortcode":           r.Shortcode,
		"keyword":             r.Keyword,
		"caption":             r.Caption,
		"us_decision":         string(orDefault(r.USDecision, USUnknown)),
		"us_reason":           r.USReason,
		"relevance_decision":  string(orDefault(r.RelevanceDecision, RelevanceUnknown)),
		"status":              string(orDefault(r.Status, StatusDiscovered)),
		"row_created_at":      r.RowCreatedAt,
		"row_updated_at":      r.RowUpdatedAt,
	}
	setStr(row, "owner_handle", r.OwnerHandle)
	setStr(row, "owner_name", r.OwnerName)
	setBool(row, "is_verified", r.IsVerified)
	setBool(row, "is_video", r.IsVideo)
	setStr(row, "product_type", r.ProductType)
	if r.Views != nil {
		row["views"] = strconv.FormatInt(*r.Views, 10)
	} else {
		row["views"] = ""
	}
	setStr(row, "taken_at_iso", r.TakenAtISO)
	setStr(row, "thumbnail", r.Thumbnail)
	setStr(row, "location_name", r.LocationName)
	setStr(row, "transcript", r.Transcript)
	return row
}

// FromRow parses a Row back into a typed Reel. Unknown extra columns on
// the Row are not represented on Reel but are preserved by SessionStore
// at the Row level.
func FromRow(row Row) Reel {
	r := Reel{
		URL:                row["url"],
		Shortcode:          row["shortcode"],
		Keyword:            row["keyword"],
		Caption:            row["caption"],
		USDecision:         USDecision(orEmpty(row["us_decision"], string(USUnknown))),
		USReason:           row["us_reason"],
		RelevanceDecision:  RelevanceDecision(orEmpty(row["relevance_decision"], string(RelevanceUnknown))),
		Status:             Status(orEmpty(row["status"], string(StatusDiscovered))),
		RowCreatedAt:       row["row_created_at"],
		RowUpdatedAt:       row["row_updated_at"],
	}
	r.OwnerHandle = getStr(row, "owner_handle")
	r.OwnerName = getStr(row, "owner_name")
	r.IsVerified = getBool(row, "is_verified")
	r.IsVideo = getBool(row, "is_video")
	r.ProductType = getStr(row, "product_type")
	if v, ok := row["views"]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.Views = &n
		}
	}
	r.TakenAtISO = getStr(row, "taken_at_iso")
	r.Thumbnail = getStr(row, "thumbnail")
	r.LocationName = getStr(row, "location_name")
	r.Transcript = getStr(row, "transcript")
	return r
}

// CanTransitionTo reports whether moving from the current status to next
// is allowed under the monotone lifecycle invariant from spec.md §3.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusAccepted {
		return next == StatusAccepted
	}
	return statusRank[next] >= statusRank[s]
}

// NormalizeReelURL canonicalizes an Instagram reel URL to
// https://www.instagram.com/reel/{shortcode}, dropping any trailing
// slash, query string, or extra path segments. It is idempotent:
// NormalizeReelURL(NormalizeReelURL(u)) == NormalizeReelURL(u).
func NormalizeReelURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	const marker = "instagram.com/reel/"
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", fmt.Errorf("store: not a reel url: %q", raw)
	}
	rest := s[idx+len(marker):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", fmt.Errorf("store: missing shortcode in url: %q", raw)
	}
	return "https://www.instagram.com/reel/" + rest, nil
}

// ShortcodeFromURL extracts the shortcode from an already-normalized
// reel URL.
func ShortcodeFromURL(normalized string) string {
	const marker = "instagram.com/reel/"
	idx := strings.Index(normalized, marker)
	if idx < 0 {
		return ""
	}
	return normalized[idx+len(marker):]
}

// NowISO returns the current UTC time formatted per spec.md's
// "ISO timestamps" requirement.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func orDefault[T ~string](v T, def T) T {
	if v == "" {
		return def
	}
	return v
}

func orEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func setStr(row Row, key string, v *string) {
	if v != nil {
		row[key] = *v
	} else {
		row[key] = ""
	}
}

func setBool(row Row, key string, v *bool) {
	if v != nil {
		row[key] = strconv.FormatBool(*v)
	} else {
		row[key] = ""
	}
}

func getStr(row Row, key string) *string {
	v, ok := row[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func getBool(row Row, key string) *bool {
	v, ok := row[key]
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
