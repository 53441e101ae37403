package reelconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODEL", "MAX_RESULTS", "PARALLEL", "RETRY", "TIMEOUT_MS",
		"SERPER_NUM", "SERPER_GL", "SERPER_HL", "SERPER_LOCATION",
		"TRANSCRIPTS", "PER_CREATOR_CAP", "MAX_ITERATIONS", "MAX_TRANSCRIPT_CHARS",
		"OPENAI_API_KEY", "SERPER_API_KEY", "SC_API_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFailsWithoutCredentials(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("SERPER_API_KEY", "k2")
	t.Setenv("SC_API_KEY", "k3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", cfg.Model)
	require.Equal(t, 30, cfg.MaxResults)
	require.Equal(t, TranscriptsSmart, cfg.Transcripts)
	require.Equal(t, 2, cfg.PerCreatorCap)
}

func TestLoadAppliesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("SERPER_API_KEY", "k2")
	t.Setenv("SC_API_KEY", "k3")
	t.Setenv("MAX_RESULTS", "50")
	t.Setenv("TRANSCRIPTS", "always")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 50, cfg.MaxResults)
	require.Equal(t, TranscriptsAlways, cfg.Transcripts)
}

func TestLoadRejectsInvalidTranscriptPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("SERPER_API_KEY", "k2")
	t.Setenv("SC_API_KEY", "k3")
	t.Setenv("TRANSCRIPTS", "sometimes")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadWithFileAppliesYAMLOverridesBelowEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("SERPER_API_KEY", "k2")
	t.Setenv("SC_API_KEY", "k3")
	t.Setenv("MAX_RESULTS", "99") // env must win over the file

	path := filepath.Join(t.TempDir(), "reelfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_results: 40\nper_creator_cap: 5\n"), 0o644))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	require.Equal(t, 99, cfg.MaxResults) // env override still wins
	require.Equal(t, 5, cfg.PerCreatorCap)
}

func TestLoadWithFileRejectsInvalidTranscriptsValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("SERPER_API_KEY", "k2")
	t.Setenv("SC_API_KEY", "k3")

	path := filepath.Join(t.TempDir(), "reelfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transcripts: sometimes\n"), 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
}

func TestSnapshotYAMLOmitsCredentials(t *testing.T) {
	cfg := Default()
	cfg.OpenAIAPIKey = "secret"
	out, err := cfg.SnapshotYAML()
	require.NoError(t, err)
	require.NotContains(t, out, "secret")
	require.Contains(t, out, "model:")
}

func TestSnapshotExcludesCredentials(t *testing.T) {
	cfg := Default()
	cfg.OpenAIAPIKey = "secret"
	snap := cfg.Snapshot()
	for k := range snap {
		require.NotContains(t, k, "key")
		require.NotContains(t, k, "secret")
	}
}
