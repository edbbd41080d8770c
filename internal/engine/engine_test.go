package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hiermem/hiermem/internal/stats"
	"github.com/hiermem/hiermem/internal/store"
	"github.com/hiermem/hiermem/internal/testutil"
	"github.com/hiermem/hiermem/pkg/config"
)

// testConfig mirrors the tuned thresholds the engine is exercised with:
// a permissive similarity threshold and a low nexus bar.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Memory.BaseDir = t.TempDir()
	cfg.Memory.SimilarityThreshold = 0.1
	cfg.Memory.NexusThreshold = 0.3
	cfg.Memory.MinAgeForPruning = time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()

	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestAddMemoryStoresWorkingBlock(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	id, err := eng.AddMemory("The quick brown fox jumps over the lazy dog", store.SignificanceUser)
	testutil.AssertNoError(t, err)
	if id == "" {
		t.Fatal("Expected a non-empty id")
	}

	stats, err := eng.GetMemoryStats()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stats.MemoryState.Tiers["working"].Blocks, 1)
}

func TestAddEmptyMemoryFails(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.AddMemory("", store.SignificanceUser)
	testutil.AssertError(t, err)

	var engineErr *Error
	if !errors.As(err, &engineErr) {
		t.Errorf("Expected an engine Error, got %T", err)
	}
}

func TestSearchFindsStoredMemory(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.AddMemory("The quick brown fox jumps over the lazy dog", store.SignificanceUser)
	testutil.AssertNoError(t, err)

	results, err := eng.SearchMemory("quick fox", true)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, len(results), 1)
	testutil.AssertStringContains(t, results[0].Content, "quick brown fox")
}

func TestSearchEmptyQueryFails(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.SearchMemory("", true)
	testutil.AssertError(t, err)
}

func TestRepeatedSearchBuildsAccessAndNexus(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	id, err := eng.AddMemory("The quick brown fox jumps over the lazy dog", store.SignificanceUser)
	testutil.AssertNoError(t, err)

	_, err = eng.SearchMemory("quick fox", true)
	testutil.AssertNoError(t, err)
	_, err = eng.SearchMemory("quick fox", true)
	testutil.AssertNoError(t, err)

	block, err := eng.GetMemoryByID(id)
	testutil.AssertNoError(t, err)
	if block == nil {
		t.Fatal("Expected the block to exist")
	}

	// Working blocks are never demoted by search and keep accumulating
	// accesses
	testutil.AssertEqual(t, block.Tier, store.TierWorking)
	if block.AccessCount < 2 {
		t.Errorf("Expected access count >= 2, got %d", block.AccessCount)
	}

	points, err := eng.GetNexusPoints()
	testutil.AssertNoError(t, err)
	if len(points) == 0 {
		t.Fatal("Expected the repeatedly accessed block to become a nexus point")
	}
	found := false
	for _, p := range points {
		if p.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("Expected the searched block among the nexus points")
	}
}

func TestAddTriggersPruning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.WorkingMemoryLimit = 1000
	cfg.Memory.PruneThreshold = 800
	cfg.Memory.PruneBatchSize = 5

	// Seed ten aged 100-token blocks directly into the store
	st, err := store.Open(cfg.Memory.BaseDir)
	testutil.AssertNoError(t, err)
	for i := 0; i < 10; i++ {
		words := make([]string, 100)
		for w := range words {
			words[w] = fmt.Sprintf("filler%d", w)
		}
		b := store.NewBlock(fmt.Sprintf("seed%d", i), strings.Join(words, " "), 100, store.SignificanceUser)
		b.Timestamp = store.Now() - 10
		testutil.AssertNoError(t, st.Add(b))
	}

	eng := newTestEngine(t, cfg)

	_, err = eng.AddMemory("trigger content here", store.SignificanceUser)
	testutil.AssertNoError(t, err)

	stats, err := eng.GetMemoryStats()
	testutil.AssertNoError(t, err)
	if stats.MemoryState.Tiers["working"].Tokens > 800 {
		t.Errorf("Working tokens %d still above prune threshold", stats.MemoryState.Tiers["working"].Tokens)
	}

	// Demoted blocks left summary stand-ins behind
	working, err := st.Get(store.TierWorking)
	testutil.AssertNoError(t, err)
	shortTerm, err := st.Get(store.TierShortTerm)
	testutil.AssertNoError(t, err)
	if len(shortTerm) == 0 {
		t.Fatal("Expected demoted blocks in short-term memory")
	}

	demoted := map[string]bool{}
	for _, b := range shortTerm {
		demoted[b.ID] = true
	}
	summaryCount := 0
	for _, b := range working {
		if strings.HasSuffix(b.ID, "_summary") {
			summaryCount++
			if !demoted[b.References.RelatedBlocks[0]] {
				t.Errorf("Summary %s does not reference a demoted block", b.ID)
			}
		}
	}
	testutil.AssertEqual(t, summaryCount, len(shortTerm))
}

func TestRepeatedSearchPromotesFromLongTerm(t *testing.T) {
	cfg := testConfig(t)

	st, err := store.Open(cfg.Memory.BaseDir)
	testutil.AssertNoError(t, err)

	long1 := store.NewBlock("long1", "Ancient wisdom of the mountains", 5, store.SignificanceUser)
	long1.References.Keywords = []string{"ancient", "wisdom"}
	long1.W3WReference = []string{"ancient", "wisdom", "mountains"}
	testutil.AssertNoError(t, st.Add(long1))
	testutil.AssertNoError(t, st.Move("long1", store.TierWorking, store.TierLongTerm))

	eng := newTestEngine(t, cfg)

	for i := 0; i < cfg.Memory.PromotionThreshold; i++ {
		results, err := eng.SearchMemory("ancient wisdom", true)
		testutil.AssertNoError(t, err)
		if len(results) == 0 {
			t.Fatal("Expected the long-term block to match")
		}
	}

	block, err := st.Find("long1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, block.Tier, store.TierWorking)
}

func TestGetRelatedMemories(t *testing.T) {
	cfg := testConfig(t)

	st, err := store.Open(cfg.Memory.BaseDir)
	testutil.AssertNoError(t, err)

	first := store.NewBlock("first", "first test block", 3, store.SignificanceUser)
	first.References.Keywords = []string{"test", "reference"}
	testutil.AssertNoError(t, st.Add(first))

	second := store.NewBlock("second", "second test block", 3, store.SignificanceUser)
	second.References.Keywords = []string{"test", "reference"}
	testutil.AssertNoError(t, st.Add(second))

	eng := newTestEngine(t, cfg)

	results, err := eng.GetRelatedMemories("first")
	testutil.AssertNoError(t, err)

	found := false
	for _, b := range results {
		if b.ID == "second" {
			found = true
		}
	}
	if !found {
		t.Error("Expected the keyword-sharing block among related memories")
	}
}

func TestGetRelatedUnknownIDFails(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.GetRelatedMemories("ghost")
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "not found")
}

func TestLookupByW3W(t *testing.T) {
	cfg := testConfig(t)

	st, err := store.Open(cfg.Memory.BaseDir)
	testutil.AssertNoError(t, err)

	b := store.NewBlock("b1", "content", 1, store.SignificanceUser)
	b.W3WReference = []string{"quick", "brown", "fox"}
	testutil.AssertNoError(t, st.Add(b))

	eng := newTestEngine(t, cfg)

	results, err := eng.LookupByW3W([]string{"quick", "fox"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(results), 1)
	testutil.AssertEqual(t, results[0].ID, "b1")

	_, err = eng.LookupByW3W(nil)
	testutil.AssertError(t, err)
}

func TestGetMemoryByIDAbsent(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	block, err := eng.GetMemoryByID("missing")
	testutil.AssertNoError(t, err)
	if block != nil {
		t.Error("Expected nil for an absent id")
	}
}

// tierDistribution captures the observable tier state for idempotence
// checks.
func tierDistribution(t *testing.T, eng *Engine) (map[string]store.TierStats, []string) {
	t.Helper()

	stats, err := eng.GetMemoryStats()
	testutil.AssertNoError(t, err)

	points, err := eng.GetNexusPoints()
	testutil.AssertNoError(t, err)
	ids := make([]string, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)

	return stats.MemoryState.Tiers, ids
}

func TestMaintainIsIdempotentOnQuiescentStore(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.AddMemory("The quick brown fox jumps over the lazy dog", store.SignificanceUser)
	testutil.AssertNoError(t, err)
	_, err = eng.SearchMemory("quick fox", true)
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, eng.MaintainSystem())
	tiersAfterFirst, nexusAfterFirst := tierDistribution(t, eng)

	testutil.AssertNoError(t, eng.MaintainSystem())
	tiersAfterSecond, nexusAfterSecond := tierDistribution(t, eng)

	for tier, bucket := range tiersAfterFirst {
		testutil.AssertEqual(t, tiersAfterSecond[tier], bucket)
	}
	testutil.AssertEqual(t, len(nexusAfterSecond), len(nexusAfterFirst))
	for i := range nexusAfterFirst {
		testutil.AssertEqual(t, nexusAfterSecond[i], nexusAfterFirst[i])
	}
}

func TestRoundTripPersistence(t *testing.T) {
	cfg := testConfig(t)

	eng := newTestEngine(t, cfg)
	_, err := eng.AddMemory("durable content survives restarts", store.SignificanceSystem)
	testutil.AssertNoError(t, err)

	before, err := eng.GetMemoryStats()
	testutil.AssertNoError(t, err)

	reopened := newTestEngine(t, cfg)
	after, err := reopened.GetMemoryStats()
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, after.MemoryState.TotalBlocks, before.MemoryState.TotalBlocks)
	testutil.AssertEqual(t, after.MemoryState.TotalTokens, before.MemoryState.TotalTokens)
	for tier, bucket := range before.MemoryState.Tiers {
		testutil.AssertEqual(t, after.MemoryState.Tiers[tier], bucket)
	}
}

func TestNexusCapHoldsAcrossOperations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.MaxNexusPoints = 2
	cfg.Memory.NexusThreshold = 0.1

	eng := newTestEngine(t, cfg)

	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("distinct searchable content number %d", i)
		_, err := eng.AddMemory(content, store.SignificanceUser)
		testutil.AssertNoError(t, err)
		_, err = eng.SearchMemory(content, true)
		testutil.AssertNoError(t, err)
	}

	points, err := eng.GetNexusPoints()
	testutil.AssertNoError(t, err)
	if len(points) > cfg.Memory.MaxNexusPoints {
		t.Errorf("Nexus count %d exceeds cap %d", len(points), cfg.Memory.MaxNexusPoints)
	}
}

func TestFailedOperationRecordsPerformanceSample(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	_, err := eng.SearchMemory("", true)
	testutil.AssertError(t, err)

	memStats, err := eng.GetMemoryStats()
	testutil.AssertNoError(t, err)

	daily, ok := memStats.Performance["daily_stats"].(*stats.DailyStats)
	if !ok {
		t.Fatalf("Expected daily stats in performance report, got %T", memStats.Performance["daily_stats"])
	}
	testutil.AssertEqual(t, daily.Performance.ErrorCount, 1)
	if daily.Performance.SuccessRate >= 1.0 {
		t.Errorf("Expected success rate below 1.0, got %f", daily.Performance.SuccessRate)
	}
}
