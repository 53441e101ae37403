package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeReelURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://www.instagram.com/reel/ABC123/",
		"https://www.instagram.com/reel/ABC123?igshid=xyz",
		"https://www.instagram.com/reel/ABC123",
		"https://www.instagram.com/p/other/reel/ABC123/extra/path",
	}
	for _, in := range inputs {
		once, err := NormalizeReelURL(in)
		require.NoError(t, err)
		twice, err := NormalizeReelURL(once)
		require.NoError(t, err)
		require.Equal(t, once, twice)
		require.Regexp(t, `^https://www\.instagram\.com/reel/[A-Za-z0-9_-]+$`, once)
	}
}

func TestNormalizeReelURLRejectsNonReel(t *testing.T) {
	_, err := NormalizeReelURL("https://example.com/foo")
	require.Error(t, err)
}

func TestShortcodeFromURL(t *testing.T) {
	u, err := NormalizeReelURL("https://www.instagram.com/reel/XYZ789/")
	require.NoError(t, err)
	require.Equal(t, "XYZ789", ShortcodeFromURL(u))
}

func TestStatusMonotonicity(t *testing.T) {
	require.True(t, StatusDiscovered.CanTransitionTo(StatusHydrated))
	require.True(t, StatusHydrated.CanTransitionTo(StatusAnalyzed))
	require.True(t, StatusAnalyzed.CanTransitionTo(StatusAccepted))
	require.False(t, StatusHydrated.CanTransitionTo(StatusDiscovered))
	require.False(t, StatusAccepted.CanTransitionTo(StatusRejected))
	require.True(t, StatusAccepted.CanTransitionTo(StatusAccepted))
}

func TestReelRowRoundTrip(t *testing.T) {
	handle := "creator1"
	views := int64(1234)
	r := Reel{
		URL:        "https://www.instagram.com/reel/AAA/",
		Keyword:    "airpods pro",
		Caption:    "great find",
		OwnerHandle: &handle,
		Views:      &views,
		USDecision: USPositive,
		USReason:   "business address in CA",
		Status:     StatusHydrated,
	}
	row := r.ToRow()
	back := FromRow(row)
	require.Equal(t, r.Keyword, back.Keyword)
	require.Equal(t, *r.OwnerHandle, *back.OwnerHandle)
	require.Equal(t, *r.Views, *back.Views)
	require.Equal(t, r.USDecision, back.USDecision)
	require.Equal(t, r.Status, back.Status)
}
