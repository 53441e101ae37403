package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Session is the per-invocation metadata described by spec.md §3.
type Session struct {
	ID         string         `json:"-"`
	Dir        string         `json:"-"`
	Keyword    string         `json:"keyword"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Config     map[string]any `json:"config_snapshot"`
	Counts     map[string]int `json:"counts,omitempty"`
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases and collapses keyword into a filesystem-safe token.
func slug(keyword string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(keyword), "-")
	return strings.Trim(s, "-")
}

// NewSession creates data/sessions/{slug(keyword)}_{timestamp}/ under
// root and writes its initial metadata.json, per spec.md §3's Session
// entity and §6's filesystem layout.
func NewSession(root, keyword string, configSnapshot map[string]any) (*Session, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	id := fmt.Sprintf("%s_%s", slug(keyword), ts)
	dir := filepath.Join(root, "sessions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create session dir: %w", err)
	}
	sess := &Session{
		ID:        id,
		Dir:       dir,
		Keyword:   keyword,
		StartedAt: NowISO(),
		Config:    configSnapshot,
	}
	if err := sess.writeMetadata(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Session) metadataPath() string { return filepath.Join(s.Dir, "metadata.json") }
func (s *Session) csvPath() string      { return filepath.Join(s.Dir, "session.csv") }

func (s *Session) writeMetadata() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("store: write metadata: %w", err)
	}
	return nil
}

// Finish records finished_at and final counts and rewrites metadata.json.
func (s *Session) Finish(counts map[string]int) error {
	s.FinishedAt = NowISO()
	s.Counts = counts
	return s.writeMetadata()
}

// SessionStore is the append-or-patch row log for one session. Writes
// are serialized by mu and rewrite the whole CSV file on every upsert,
// matching spec.md §4.4.1's "synchronous but cheap" requirement at the
// expected per-session scale (tens to low hundreds of rows).
type SessionStore struct {
	mu      sync.Mutex
	session *Session
	rows    map[string]Row // keyed by normalized url
	order   []string        // first-discovery order, for stable CSV row order
}

// OpenSessionStore creates a fresh in-memory store backed by sess's
// session.csv, loading any rows already on disk (e.g. after a crash
// restart against the same session directory).
func OpenSessionStore(sess *Session) (*SessionStore, error) {
	existing, err := readCSV(sess.csvPath())
	if err != nil {
		return nil, err
	}
	st := &SessionStore{session: sess, rows: map[string]Row{}}
	for _, row := range existing {
		url := row["url"]
		if url == "" {
			continue
		}
		st.rows[url] = row
		st.order = append(st.order, url)
	}
	return st, nil
}

// Upsert inserts a new reel or patches an existing one by URL. Patch
// semantics: non-empty fields on incoming overwrite the stored value;
// empty/nil fields leave the stored value untouched ("last write wins"
// only for fields actually supplied). status is monotone: an attempt to
// move status backwards, or away from accepted, is silently ignored
// rather than erroring, since callers pass partial updates freely.
func (st *SessionStore) Upsert(incoming Reel) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	url, err := NormalizeReelURL(incoming.URL)
	if err != nil {
		return err
	}
	incoming.URL = url
	if incoming.Shortcode == "" {
		incoming.Shortcode = ShortcodeFromURL(url)
	}
	now := NowISO()

	newRow := incoming.ToRow()
	existing, had := st.rows[url]
	if !had {
		if incoming.RowCreatedAt == "" {
			newRow["row_created_at"] = now
		}
		newRow["row_updated_at"] = now
		st.rows[url] = newRow
		st.order = append(st.order, url)
		return st.flush()
	}

	merged := Row{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range newRow {
		if k == "row_created_at" {
			continue // never patched
		}
		if k == "status" {
			continue // handled below with monotonicity
		}
		// ToRow renders an unset decision as "unknown"; a caller that did
		// not set a decision must not overwrite the stored one.
		if k == "us_decision" && incoming.USDecision == "" {
			continue
		}
		if k == "relevance_decision" && incoming.RelevanceDecision == "" {
			continue
		}
		if v != "" {
			merged[k] = v
		}
	}
	// status: only advance, and never leave accepted.
	curStatus := Status(existing["status"])
	nextStatus := Status(newRow["status"])
	if nextStatus != "" && curStatus.CanTransitionTo(nextStatus) {
		merged["status"] = string(nextStatus)
	} else if existing["status"] != "" {
		merged["status"] = existing["status"]
	}
	merged["row_updated_at"] = now
	st.rows[url] = merged
	return st.flush()
}

// Get returns the current row for url, if present.
func (st *SessionStore) Get(url string) (Reel, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	norm, err := NormalizeReelURL(url)
	if err != nil {
		return Reel{}, false
	}
	row, ok := st.rows[norm]
	if !ok {
		return Reel{}, false
	}
	return FromRow(row), true
}

// All returns every row in first-discovery order.
func (st *SessionStore) All() []Reel {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Reel, 0, len(st.order))
	for _, url := range st.order {
		out = append(out, FromRow(st.rows[url]))
	}
	return out
}

// Contains reports whether url is already discovered in this session,
// used by the post/transcript tools to refuse hydrating unknown URLs.
func (st *SessionStore) Contains(url string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	norm, err := NormalizeReelURL(url)
	if err != nil {
		return false
	}
	_, ok := st.rows[norm]
	return ok
}

func (st *SessionStore) flush() error {
	rows := make([]Row, 0, len(st.order))
	for _, url := range st.order {
		rows = append(rows, st.rows[url])
	}
	return writeCSV(st.session.csvPath(), rows)
}

// Session returns the underlying session metadata.
func (st *SessionStore) Session() *Session { return st.session }
