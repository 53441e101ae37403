package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchTranscriptsUsesTextField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transcripts":[{"id":"1","shortcode":"ABC","text":"this is the spoken transcript"}]}`))
	}))
	defer server.Close()

	a := NewTranscriptAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 2})
	results := a.BatchTranscripts(context.Background(), []string{"https://www.instagram.com/reel/ABC"})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Transcript)
	require.Equal(t, "this is the spoken transcript", *results[0].Transcript)
}

func TestBatchTranscriptsEmptyTextNormalizesToNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transcripts":[{"id":"1","shortcode":"ABC","text":""}]}`))
	}))
	defer server.Close()

	a := NewTranscriptAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1})
	results := a.BatchTranscripts(context.Background(), []string{"https://www.instagram.com/reel/ABC"})
	require.Nil(t, results[0].Transcript)
}

func TestBatchTranscriptsNeverReturnsErrorOnPerURLFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewTranscriptAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 3})
	urls := []string{
		"https://www.instagram.com/reel/A",
		"https://www.instagram.com/reel/B",
		"https://www.instagram.com/reel/C",
	}
	results := a.BatchTranscripts(context.Background(), urls)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, urls[i], r.URL)
		require.Nil(t, r.Transcript)
	}
}

func TestBatchTranscriptsPreservesIndexOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		shortcode := q[strings.LastIndex(q, "/")+1:]
		_, _ = w.Write([]byte(`{"success":true,"transcripts":[{"id":"1","shortcode":"` + shortcode + `","text":"t-` + shortcode + `"}]}`))
	}))
	defer server.Close()

	a := NewTranscriptAdapter(ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 4})
	urls := []string{
		"https://www.instagram.com/reel/A",
		"https://www.instagram.com/reel/B",
		"https://www.instagram.com/reel/C",
	}
	results := a.BatchTranscripts(context.Background(), urls)
	require.Equal(t, "t-A", *results[0].Transcript)
	require.Equal(t, "t-B", *results[1].Transcript)
	require.Equal(t, "t-C", *results[2].Transcript)
}
