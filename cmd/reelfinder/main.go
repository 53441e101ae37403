// Command reelfinder runs one invocation of the reel discovery agent for
// a keyword: search, hydrate, classify, and post-process Instagram Reels
// into a de-duplicated, US-filtered, per-creator-balanced result set.
// Modeled on the teacher's root main.go (godotenv.Load, env credential
// checks, construct-then-run) but driving one pipeline instead of a demo
// script.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sanchay-t/reelfinder/internal/postprocess"
	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelagent"
	"github.com/sanchay-t/reelfinder/internal/reelconfig"
	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/store"
	"github.com/sanchay-t/reelfinder/internal/toolrouter"
)

// Exit codes per spec.md §6.
const (
	exitOK             = 0
	exitZeroAccepted   = 2
	exitUsage          = 64
	exitProviderError  = 70
	exitConfigError    = 71
)

const dataRoot = "data"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("reelfinder", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "skip LLM/provider calls; print resolved config and exit")
	configPath := fs.String("config", "", "optional YAML file overriding the documented defaults")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	keyword := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if keyword == "" {
		fmt.Fprintln(os.Stderr, "usage: reelfinder [--dry-run] [--config file.yaml] <keyword...>")
		return exitUsage
	}

	cfg, err := reelconfig.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	if *dryRun {
		snapshot, err := cfg.SnapshotYAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			return exitConfigError
		}
		fmt.Printf("resolved config for keyword %q:\n%s", keyword, snapshot)
		return exitOK
	}

	runID := uuid.NewString()
	logger, logFile, err := reellog.NewFileLogger("logs", runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return exitProviderError
	}
	defer logFile.Close()

	sess, err := store.NewSession(dataRoot, keyword, cfg.Snapshot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "session error: %v\n", err)
		return exitProviderError
	}
	sessStore, err := store.OpenSessionStore(sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session store error: %v\n", err)
		return exitProviderError
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.MaxIterations)*reelagent.MaxExpectedTurnLatency)
	defer cancel()

	accepted, exitCode := runPipeline(ctx, cfg, sess, sessStore, logger, keyword)

	analysis := store.Analyze(sessStore)
	counts := map[string]int{
		"total_rows":       analysis.TotalRows,
		"hydrated":         analysis.Hydrated,
		"with_transcripts": analysis.WithTranscripts,
		"accepted":         analysis.AcceptedCount,
		"unique_owners":    analysis.UniqueOwners,
		"us":               analysis.USCounts[store.USPositive],
		"non_us":           analysis.USCounts[store.USNegative],
		"us_unknown":       analysis.USCounts[store.USUnknown],
	}
	if err := sess.Finish(counts); err != nil {
		logger.Warn(ctx, "failed to write final metadata.json", reellog.F("error", err.Error()))
	}

	logger.Final(ctx, fmt.Sprintf("session %s: %d accepted for keyword %q", sess.ID, accepted, keyword), reellog.F("accepted", accepted))
	fmt.Printf("session %s: %d reels accepted for %q (log: logs/%s.log)\n", sess.ID, accepted, keyword, runID)
	return exitCode
}

// runPipeline wires the provider adapters, tool router, and agent loop,
// then runs post-processing and the master merge once the loop finalizes.
func runPipeline(ctx context.Context, cfg *reelconfig.Config, sess *store.Session, sessStore *store.SessionStore, logger reellog.Logger, keyword string) (int, int) {
	searchAdapter := provider.NewSearchAdapter(provider.ClientConfig{
		BaseURL: "https://google.serper.dev", APIKey: cfg.SerperAPIKey,
		TimeoutMS: cfg.TimeoutMS, Parallel: cfg.Parallel, Retry: cfg.Retry,
	}, provider.SearchParams{GL: cfg.SerperGL, HL: cfg.SerperHL, Location: cfg.SerperLocation, Num: cfg.SerperNum})

	postAdapter := provider.NewPostAdapter(provider.ClientConfig{
		BaseURL: "https://api.scrapecreators.com", APIKey: cfg.SCAPIKey,
		TimeoutMS: cfg.TimeoutMS, Parallel: cfg.Parallel, Retry: cfg.Retry,
	}, logger)

	transcriptAdapter := provider.NewTranscriptAdapter(provider.ClientConfig{
		BaseURL: "https://api.scrapecreators.com", APIKey: cfg.SCAPIKey,
		TimeoutMS: cfg.TimeoutMS, Parallel: cfg.Parallel, Retry: cfg.Retry,
	})

	profileAdapter := provider.NewProfileAdapter(provider.ClientConfig{
		BaseURL: "https://api.scrapecreators.com", APIKey: cfg.SCAPIKey,
		TimeoutMS: cfg.TimeoutMS, Parallel: cfg.Parallel, Retry: cfg.Retry,
	})

	router := toolrouter.NewRouter()
	router.Register(toolrouter.NewSearchTool(sessStore, searchAdapter, keyword, logger))
	router.Register(toolrouter.NewPostsTool(sessStore, postAdapter, keyword, logger))
	router.Register(toolrouter.NewTranscriptsTool(sessStore, transcriptAdapter, cfg, keyword, logger))
	router.Register(toolrouter.NewProfilesTool(sessStore, profileAdapter, logger))

	var acceptedCount int
	router.Register(toolrouter.NewFinalizeTool(sessStore, logger, func(ctx context.Context, urls []string) (int, error) {
		acceptedURLs, err := postprocess.Run(sessStore, logger, sess.ID, urls, cfg.PerCreatorCap, cfg.MaxResults, cfg.USUnknownAllowed)
		if err != nil {
			return 0, reelerr.WithContext(err, reelerr.ClassTransient, "postprocess.Run", nil)
		}
		if err := store.MergeMaster(dataRoot, sessStore); err != nil {
			return 0, reelerr.WithContext(err, reelerr.ClassTransient, "store.MergeMaster", nil)
		}
		acceptedCount = len(acceptedURLs)
		return acceptedCount, nil
	}))

	llm := reelagent.NewOpenAIClient(cfg.Model, cfg.OpenAIAPIKey)
	prompt := fmt.Sprintf(
		"Find Instagram Reels relevant to the keyword %q. Use serper_search_reels_batch to discover candidate URLs, "+
			"sc_batch_posts to hydrate them, sc_batch_transcripts and sc_batch_profiles to gather further signal, "+
			"and call finalize exactly once with the URLs you want to keep. Only reference URLs that a tool has "+
			"actually returned to you; never invent a URL.", keyword)
	loop := reelagent.NewLoop(llm, router, logger, cfg.Parallel, cfg.MaxIterations, prompt)

	result, err := loop.Run(ctx)
	if err != nil {
		class := reelerr.ClassOf(err)
		logger.Error(ctx, "agent loop failed", reellog.F("error", err.Error()), reellog.F("class", string(class)))
		if class == reelerr.ClassAuthFailed {
			return acceptedCount, exitConfigError
		}
		return acceptedCount, exitProviderError
	}
	if !result.Finalized {
		logger.Warn(ctx, "loop ended without finalize", reellog.F("iterations", result.Iterations))
	}

	if acceptedCount == 0 {
		return 0, exitZeroAccepted
	}
	return acceptedCount, exitOK
}
