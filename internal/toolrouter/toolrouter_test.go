package toolrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelconfig"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *store.SessionStore {
	t.Helper()
	sess, err := store.NewSession(t.TempDir(), "airpods pro", map[string]any{})
	require.NoError(t, err)
	st, err := store.OpenSessionStore(sess)
	require.NoError(t, err)
	return st
}

func TestRouterDispatchUnknownToolReturnsErrorPacket(t *testing.T) {
	r := NewRouter()
	out := r.Dispatch(context.Background(), "not_a_real_tool", `{}`)
	var packet errorPacket
	require.NoError(t, json.Unmarshal([]byte(out), &packet))
	require.Equal(t, "invalid_response", packet.Error)
}

func TestSearchToolValidatesBounds(t *testing.T) {
	sess := newTestSession(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"organic":[{"link":"https://www.instagram.com/reel/ABC"}]}]`))
	}))
	defer server.Close()

	adapter := provider.NewSearchAdapter(provider.ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 2}, provider.SearchParams{})
	tool := NewSearchTool(sess, adapter, "airpods pro", reellog.NoopLogger{})

	router := NewRouter()
	router.Register(tool)

	tooMany := make([]string, 13)
	for i := range tooMany {
		tooMany[i] = "q"
	}
	argsJSON, _ := json.Marshal(searchArgs{Queries: tooMany})
	out := router.Dispatch(context.Background(), "serper_search_reels_batch", string(argsJSON))
	var packet errorPacket
	require.NoError(t, json.Unmarshal([]byte(out), &packet))
	require.Equal(t, "invalid_response", packet.Error)
}

func TestSearchToolPersistsDiscoveredURLs(t *testing.T) {
	sess := newTestSession(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"organic":[{"link":"https://www.instagram.com/reel/ABC"},{"link":"https://www.instagram.com/reel/DEF"}]}]`))
	}))
	defer server.Close()

	adapter := provider.NewSearchAdapter(provider.ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 2}, provider.SearchParams{})
	tool := NewSearchTool(sess, adapter, "airpods pro", reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(searchArgs{Queries: []string{"airpods pro"}})
	out, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)

	var res searchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 2, res.Found)
	require.Equal(t, 2, res.New)
	require.True(t, sess.Contains("https://www.instagram.com/reel/ABC"))
	require.True(t, sess.Contains("https://www.instagram.com/reel/DEF"))
}

func TestPostsToolRefusesUnknownURLs(t *testing.T) {
	sess := newTestSession(t)
	adapter := provider.NewPostAdapter(provider.ClientConfig{BaseURL: "http://unused", APIKey: "k", TimeoutMS: 5000, Parallel: 1}, nil)
	tool := NewPostsTool(sess, adapter, "airpods pro", reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(urlsArgs{URLs: []string{"https://www.instagram.com/reel/NEVERSEEN"}})
	_, err := tool.Handler(context.Background(), string(argsJSON))
	require.Error(t, err)
}

func TestPostsToolHydratesAndReturnsPacket(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", Keyword: "airpods pro", Status: store.StatusDiscovered}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"xdt_shortcode_media":{"shortcode":"ABC","owner":{"username":"creator1"},"edge_media_to_caption":{"edges":[{"node":{"text":"airpods pro review"}}]},"video_view_count":500}}}`))
	}))
	defer server.Close()

	adapter := provider.NewPostAdapter(provider.ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 2}, nil)
	tool := NewPostsTool(sess, adapter, "airpods pro", reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(urlsArgs{URLs: []string{"https://www.instagram.com/reel/ABC"}})
	out, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)
	require.Contains(t, out, "quality_score")

	reel, ok := sess.Get("https://www.instagram.com/reel/ABC")
	require.True(t, ok)
	require.Equal(t, store.StatusHydrated, reel.Status)
	require.NotNil(t, reel.OwnerHandle)
	require.Equal(t, "creator1", *reel.OwnerHandle)
}

func TestTranscriptsToolNeverPolicyReturnsEmptyPacket(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", Status: store.StatusHydrated}))
	adapter := provider.NewTranscriptAdapter(provider.ClientConfig{BaseURL: "http://unused", APIKey: "k", TimeoutMS: 5000, Parallel: 1})
	cfg := reelconfig.Default()
	cfg.Transcripts = reelconfig.TranscriptsNever
	tool := NewTranscriptsTool(sess, adapter, cfg, "airpods pro", reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(urlsArgs{URLs: []string{"https://www.instagram.com/reel/ABC"}})
	out, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)
	require.Contains(t, out, "disabled by configuration")
}

func TestTranscriptsToolAlwaysPolicyFetches(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", Status: store.StatusHydrated}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transcripts":[{"id":"1","shortcode":"ABC","text":"airpods pro unboxing"}]}`))
	}))
	defer server.Close()

	adapter := provider.NewTranscriptAdapter(provider.ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1})
	cfg := reelconfig.Default()
	cfg.Transcripts = reelconfig.TranscriptsAlways
	tool := NewTranscriptsTool(sess, adapter, cfg, "airpods pro", reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(urlsArgs{URLs: []string{"https://www.instagram.com/reel/ABC"}})
	_, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)

	reel, ok := sess.Get("https://www.instagram.com/reel/ABC")
	require.True(t, ok)
	require.NotNil(t, reel.Transcript)
}

func TestProfilesToolWritesUSDecisionOntoMatchingRows(t *testing.T) {
	sess := newTestSession(t)
	handle := "creator1"
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", OwnerHandle: &handle, Status: store.StatusHydrated}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"user":{"username":"creator1","business_address_json":"{\"zip_code\":\"78701\",\"city_name\":\"Austin, TX\"}"}}}`))
	}))
	defer server.Close()

	adapter := provider.NewProfileAdapter(provider.ClientConfig{BaseURL: server.URL, APIKey: "k", TimeoutMS: 5000, Parallel: 1})
	tool := NewProfilesTool(sess, adapter, reellog.NoopLogger{})

	argsJSON, _ := json.Marshal(handlesArgs{Handles: []string{"creator1"}})
	_, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)

	reel, ok := sess.Get("https://www.instagram.com/reel/ABC")
	require.True(t, ok)
	require.Equal(t, store.USPositive, reel.USDecision)
}

func TestFinalizeToolRejectsUnhydratedURLs(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", Status: store.StatusDiscovered}))

	called := false
	tool := NewFinalizeTool(sess, reellog.NoopLogger{}, func(ctx context.Context, urls []string) (int, error) {
		called = true
		return len(urls), nil
	})

	argsJSON, _ := json.Marshal(finalizeArgs{URLs: []string{"https://www.instagram.com/reel/ABC"}})
	_, err := tool.Handler(context.Background(), string(argsJSON))
	require.Error(t, err)
	require.False(t, called)
}

func TestFinalizeToolMarksAnalyzedAndCallsOnFinalize(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Upsert(store.Reel{URL: "https://www.instagram.com/reel/ABC", Status: store.StatusHydrated}))

	var seenURLs []string
	tool := NewFinalizeTool(sess, reellog.NoopLogger{}, func(ctx context.Context, urls []string) (int, error) {
		seenURLs = urls
		return 1, nil
	})

	argsJSON, _ := json.Marshal(finalizeArgs{URLs: []string{"https://www.instagram.com/reel/ABC"}})
	out, err := tool.Handler(context.Background(), string(argsJSON))
	require.NoError(t, err)
	require.Contains(t, out, "\"accepted\":1")
	require.Equal(t, []string{"https://www.instagram.com/reel/ABC"}, seenURLs)

	reel, ok := sess.Get("https://www.instagram.com/reel/ABC")
	require.True(t, ok)
	require.Equal(t, store.StatusAnalyzed, reel.Status)
}
