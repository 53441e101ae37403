package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	root := t.TempDir()
	sess, err := NewSession(root, "airpods pro", map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)
	return sess, root
}

func TestSessionUpsertInsertsThenPatches(t *testing.T) {
	sess, _ := newTestSession(t)
	st, err := OpenSessionStore(sess)
	require.NoError(t, err)

	err = st.Upsert(Reel{URL: "https://www.instagram.com/reel/AAA", Keyword: "airpods pro", Status: StatusDiscovered})
	require.NoError(t, err)

	views := int64(500)
	err = st.Upsert(Reel{URL: "https://www.instagram.com/reel/AAA/", Views: &views, Status: StatusHydrated})
	require.NoError(t, err)

	got, ok := st.Get("https://www.instagram.com/reel/AAA")
	require.True(t, ok)
	require.Equal(t, "airpods pro", got.Keyword) // untouched field survives patch
	require.Equal(t, int64(500), *got.Views)
	require.Equal(t, StatusHydrated, got.Status)
}

func TestSessionUpsertAcceptedNeverRegresses(t *testing.T) {
	sess, _ := newTestSession(t)
	st, err := OpenSessionStore(sess)
	require.NoError(t, err)

	require.NoError(t, st.Upsert(Reel{URL: "https://www.instagram.com/reel/BBB", Status: StatusAccepted}))
	require.NoError(t, st.Upsert(Reel{URL: "https://www.instagram.com/reel/BBB", Status: StatusRejected}))

	got, ok := st.Get("https://www.instagram.com/reel/BBB")
	require.True(t, ok)
	require.Equal(t, StatusAccepted, got.Status)
}

func TestSessionStoreRoundTripAfterReopen(t *testing.T) {
	sess, _ := newTestSession(t)
	st, err := OpenSessionStore(sess)
	require.NoError(t, err)
	require.NoError(t, st.Upsert(Reel{URL: "https://www.instagram.com/reel/CCC", Keyword: "k", Caption: "has, a comma\nand a newline"}))

	reopened, err := OpenSessionStore(sess)
	require.NoError(t, err)
	got, ok := reopened.Get("https://www.instagram.com/reel/CCC")
	require.True(t, ok)
	require.Equal(t, "has, a comma\nand a newline", got.Caption)
}

func TestSessionStoreToleratesUnknownColumns(t *testing.T) {
	sess, _ := newTestSession(t)
	// Simulate a newer writer adding a column this reader doesn't know about.
	rows := []Row{{"url": "https://www.instagram.com/reel/DDD", "keyword": "k", "future_field": "x"}}
	require.NoError(t, writeCSV(filepath.Join(sess.Dir, "session.csv"), rows))

	st, err := OpenSessionStore(sess)
	require.NoError(t, err)
	got, ok := st.Get("https://www.instagram.com/reel/DDD")
	require.True(t, ok)
	require.Equal(t, "k", got.Keyword)

	// Writing it back out should still preserve the unknown column.
	require.NoError(t, st.Upsert(Reel{URL: "https://www.instagram.com/reel/DDD", Keyword: "k"}))
	roundTripped, err := readCSV(filepath.Join(sess.Dir, "session.csv"))
	require.NoError(t, err)
	found := false
	for _, r := range roundTripped {
		if r["url"] == "https://www.instagram.com/reel/DDD" {
			require.Equal(t, "x", r["future_field"])
			found = true
		}
	}
	require.True(t, found)
}

func TestMergeMasterIdempotent(t *testing.T) {
	root := t.TempDir()
	sess, err := NewSession(root, "airpods", map[string]any{})
	require.NoError(t, err)
	st, err := OpenSessionStore(sess)
	require.NoError(t, err)
	require.NoError(t, st.Upsert(Reel{URL: "https://www.instagram.com/reel/EEE", Keyword: "airpods", Status: StatusAccepted}))

	require.NoError(t, MergeMaster(root, st))
	first, err := readCSV(MasterPath(root))
	require.NoError(t, err)

	require.NoError(t, MergeMaster(root, st))
	second, err := readCSV(MasterPath(root))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestMergeMasterMostRecentWinsOnViews(t *testing.T) {
	root := t.TempDir()

	sessA, err := NewSession(root, "k", map[string]any{})
	require.NoError(t, err)
	stA, err := OpenSessionStore(sessA)
	require.NoError(t, err)
	viewsA := int64(1000)
	require.NoError(t, stA.Upsert(Reel{
		URL: "https://www.instagram.com/reel/SHARED", Views: &viewsA,
		Status: StatusAccepted, RowUpdatedAt: "2026-01-01T00:00:00Z",
	}))
	require.NoError(t, MergeMaster(root, stA))

	time.Sleep(time.Millisecond)

	sessB, err := NewSession(root, "k", map[string]any{})
	require.NoError(t, err)
	stB, err := OpenSessionStore(sessB)
	require.NoError(t, err)
	viewsB := int64(1500)
	require.NoError(t, stB.Upsert(Reel{
		URL: "https://www.instagram.com/reel/SHARED", Views: &viewsB,
		Status: StatusDiscovered, RowUpdatedAt: "2026-01-02T00:00:00Z",
	}))
	require.NoError(t, MergeMaster(root, stB))

	rows, err := readCSV(MasterPath(root))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1500", rows[0]["views"])
	require.Equal(t, string(StatusAccepted), rows[0]["status"]) // accepted never regresses
}
