package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/stretchr/testify/require"
)

func TestBatchPostsParsesUntrimmedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "", r.URL.Query().Get("trim"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"xdt_shortcode_media":{
			"shortcode":"ABC123",
			"owner":{"username":"creator1","full_name":"Creator One","is_verified":true},
			"edge_media_to_caption":{"edges":[{"node":{"text":"hello world"}}]},
			"is_video":true,
			"product_type":"clips",
			"video_view_count":12345,
			"taken_at_timestamp":1700000000,
			"thumbnail_src":"https://example.com/thumb.jpg",
			"location":{"name":"New York, NY"}
		}}}`))
	}))
	defer server.Close()

	a := NewPostAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 2}, nil)
	briefs, err := a.BatchPosts(context.Background(), []string{"https://www.instagram.com/reel/ABC123"})
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	require.Equal(t, "creator1", briefs[0].OwnerHandle)
	require.Equal(t, "hello world", briefs[0].Caption)
	require.NotNil(t, briefs[0].Views)
	require.Equal(t, int64(12345), *briefs[0].Views)
	require.Equal(t, "2023-11-14T22:13:20Z", briefs[0].TakenAtISO)
	require.Equal(t, "New York, NY", briefs[0].LocationName)
}

func TestBatchPostsFallsBackToPlayCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"xdt_shortcode_media":{
			"shortcode":"XYZ","owner":{"username":"u"},"video_play_count":99
		}}}`))
	}))
	defer server.Close()

	a := NewPostAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1}, nil)
	briefs, err := a.BatchPosts(context.Background(), []string{"https://www.instagram.com/reel/XYZ"})
	require.NoError(t, err)
	require.NotNil(t, briefs[0].Views)
	require.Equal(t, int64(99), *briefs[0].Views)
}

func TestBatchPostsStopsOnOutOfCredits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	a := NewPostAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1}, nil)
	_, err := a.BatchPosts(context.Background(), []string{"https://www.instagram.com/reel/ABC"})
	require.Error(t, err)
}

func TestBatchPostsRetriesTransientFailureThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"xdt_shortcode_media":{"shortcode":"OK","owner":{"username":"u"}}}}`))
	}))
	defer server.Close()

	a := NewPostAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1, Retry: 3}, nil)
	briefs, err := a.BatchPosts(context.Background(), []string{"https://www.instagram.com/reel/OK"})
	require.NoError(t, err)
	require.Equal(t, "OK", briefs[0].Shortcode)
	require.EqualValues(t, 2, calls)
}

func TestBatchPostsStopsOnAuthFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewPostAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1}, nil)
	_, err := a.BatchPosts(context.Background(), []string{"https://www.instagram.com/reel/ABC"})
	require.Error(t, err)
	require.Equal(t, reelerr.ClassAuthFailed, reelerr.ClassOf(err))
}

func TestTimestampToISOSecondsVsMilliseconds(t *testing.T) {
	require.Equal(t, "2023-11-14T22:13:20Z", timestampToISO(1700000000))
	require.Equal(t, "2023-11-14T22:13:20Z", timestampToISO(1700000000000))
}
