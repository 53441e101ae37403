package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// MasterPath returns the single global row log path under root, per
// spec.md §6 ("data/master.csv").
func MasterPath(root string) string {
	return filepath.Join(root, "master.csv")
}

// lockFile takes an exclusive advisory flock on path+".lock", retrying
// up to 3 times with a combined 30s timeout, per spec.md §5's "file
// lock with a 30-second timeout and 3 retries" requirement for the
// master-merge single-writer transaction.
func lockFile(path string) (*os.File, error) {
	lockPath := path + ".lock"
	const attempts = 3
	const totalTimeout = 30 * time.Second
	perAttempt := totalTimeout / attempts

	var lastErr error
	for i := 0; i < attempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("store: open lock file: %w", err)
		}

		done := make(chan error, 1)
		go func() { done <- unix.Flock(int(f.Fd()), unix.LOCK_EX) }()

		select {
		case err := <-done:
			if err == nil {
				return f, nil
			}
			lastErr = err
			f.Close()
		case <-time.After(perAttempt):
			lastErr = fmt.Errorf("timed out waiting for master lock")
			f.Close()
		}
	}
	return nil, fmt.Errorf("store: could not acquire master lock after %d attempts: %w", attempts, lastErr)
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	_ = f.Close()
}

// MergeMaster merges sess's session.csv into data/master.csv under an
// exclusive file lock, per spec.md §4.4.2: union by url, most recent
// row_updated_at wins per column, null never overwrites non-null.
// Merge is idempotent: running it twice with no new data leaves master
// byte-identical (column order is always FixedColumns + sorted extras).
func MergeMaster(root string, sess *SessionStore) error {
	masterPath := MasterPath(root)

	lock, err := lockFile(masterPath)
	if err != nil {
		return err
	}
	defer unlockFile(lock)

	masterRows, err := readCSV(masterPath)
	if err != nil {
		return err
	}

	byURL := map[string]Row{}
	var order []string
	for _, row := range masterRows {
		url := row["url"]
		if url == "" {
			continue
		}
		byURL[url] = row
		order = append(order, url)
	}

	for _, reel := range sess.All() {
		row := reel.ToRow()
		url := row["url"]
		existing, had := byURL[url]
		if !had {
			byURL[url] = row
			order = append(order, url)
			continue
		}
		byURL[url] = mergeRow(existing, row)
	}

	merged := make([]Row, 0, len(order))
	for _, url := range order {
		merged = append(merged, byURL[url])
	}
	return writeCSV(masterPath, merged)
}

// mergeRow implements per-column conflict resolution: the row whose
// row_updated_at is more recent wins that column, but a null (empty)
// value never overwrites a non-null one regardless of timestamp.
func mergeRow(existing, incoming Row) Row {
	incomingNewer := incoming["row_updated_at"] >= existing["row_updated_at"]
	out := Row{}
	keys := map[string]bool{}
	for k := range existing {
		keys[k] = true
	}
	for k := range incoming {
		keys[k] = true
	}
	for k := range keys {
		ev, eok := existing[k]
		iv, iok := incoming[k]
		switch {
		case iok && iv != "" && (!eok || ev == "" || incomingNewer):
			out[k] = iv
		case eok && ev != "":
			out[k] = ev
		case iok:
			out[k] = iv
		default:
			out[k] = ev
		}
	}
	// status must still be monotone in the merged row.
	if Status(existing["status"]) == StatusAccepted {
		out["status"] = string(StatusAccepted)
	}
	// row_created_at is immutable: earliest wins.
	if existing["row_created_at"] != "" && (incoming["row_created_at"] == "" || existing["row_created_at"] <= incoming["row_created_at"]) {
		out["row_created_at"] = existing["row_created_at"]
	}
	out["row_updated_at"] = maxString(existing["row_updated_at"], incoming["row_updated_at"])
	return out
}

func maxString(a, b string) string {
	if a >= b {
		return a
	}
	return b
}
