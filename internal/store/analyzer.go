package store

// Analysis is the session-statistics summary defined by spec.md §4.4.3,
// consumed by the CLI for the counts written to metadata.json.
type Analysis struct {
	TotalRows       int
	Hydrated        int
	WithTranscripts int
	USCounts        map[USDecision]int
	AcceptedCount   int
	UniqueOwners    int
}

// Analyze computes session statistics over every row currently in st.
func Analyze(st *SessionStore) Analysis {
	reels := st.All()
	a := Analysis{
		TotalRows: len(reels),
		USCounts:  map[USDecision]int{USUnknown: 0, USPositive: 0, USNegative: 0},
	}
	owners := map[string]bool{}
	for _, r := range reels {
		if r.Status == StatusHydrated || r.Status == StatusAnalyzed || r.Status == StatusAccepted || r.Status == StatusRejected {
			a.Hydrated++
		}
		if r.Transcript != nil && *r.Transcript != "" {
			a.WithTranscripts++
		}
		a.USCounts[r.USDecision]++
		if r.Status == StatusAccepted {
			a.AcceptedCount++
		}
		if r.OwnerHandle != nil && *r.OwnerHandle != "" {
			owners[*r.OwnerHandle] = true
		}
	}
	a.UniqueOwners = len(owners)
	return a
}
