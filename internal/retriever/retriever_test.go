package retriever

import (
	"testing"
	"time"

	"github.com/hiermem/hiermem/internal/nexus"
	"github.com/hiermem/hiermem/internal/store"
	"github.com/hiermem/hiermem/internal/testutil"
)

func newTestRetriever(t *testing.T, cfg Config) (*Retriever, *store.Store) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	nexusManager := nexus.NewManager(st, nexus.DefaultConfig())
	return NewRetriever(st, nexusManager, cfg), st
}

func lowThresholdConfig() Config {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.1
	return cfg
}

func seed(t *testing.T, st *store.Store, id, content string, tier store.Tier) *store.Block {
	t.Helper()

	b := store.NewBlock(id, content, len(content)/5+1, store.SignificanceUser)
	testutil.AssertNoError(t, st.Add(b))
	if tier != store.TierWorking {
		testutil.AssertNoError(t, st.Move(id, store.TierWorking, tier))
	}
	return b
}

func TestSearchFindsRelevantBlock(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)
	seed(t, st, "other", "completely unrelated topic about databases", store.TierWorking)

	results, err := r.Search("quick fox", true)
	testutil.AssertNoError(t, err)

	if len(results) == 0 {
		t.Fatal("Expected at least one result")
	}
	testutil.AssertEqual(t, results[0].ID, "fox")
}

func TestSearchRespectsThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.9
	r, st := newTestRetriever(t, cfg)

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)

	results, err := r.Search("entirely disjoint query", true)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(results), 0)
}

func TestSearchExcludesArchivedWhenAsked(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	archived := store.NewBlock("archived", "archived knowledge about deployment", 5, store.SignificanceUser)
	archived.W3WReference = []string{"archived", "knowledge", "deployment"}
	testutil.AssertNoError(t, st.Add(archived))
	testutil.AssertNoError(t, st.Move("archived", store.TierWorking, store.TierStale))

	withArchived, err := r.Search("archived knowledge about deployment", true)
	testutil.AssertNoError(t, err)
	if len(withArchived) == 0 {
		t.Fatal("Expected archived block in full search")
	}

	r.ClearCache()

	withoutArchived, err := r.Search("archived knowledge about deployment", false)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(withoutArchived), 0)
}

func TestSearchMaxResults(t *testing.T) {
	cfg := lowThresholdConfig()
	cfg.MaxResults = 2
	r, st := newTestRetriever(t, cfg)

	seed(t, st, "m1", "memory engine notes alpha", store.TierWorking)
	seed(t, st, "m2", "memory engine notes beta", store.TierWorking)
	seed(t, st, "m3", "memory engine notes gamma", store.TierWorking)

	results, err := r.Search("memory engine notes", true)
	testutil.AssertNoError(t, err)
	if len(results) > 2 {
		t.Errorf("Expected at most 2 results, got %d", len(results))
	}
}

func TestKeywordScoreBoostsRelevance(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	tagged := store.NewBlock("tagged", "some text without overlap", 4, store.SignificanceUser)
	tagged.References.Keywords = []string{"ancient", "wisdom"}
	testutil.AssertNoError(t, st.Add(tagged))

	results, err := r.Search("ancient wisdom", true)
	testutil.AssertNoError(t, err)
	if len(results) == 0 {
		t.Fatal("Expected keyword overlap to clear the threshold")
	}
	testutil.AssertEqual(t, results[0].ID, "tagged")
}

func TestSearchTracksAccessCount(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)

	_, err := r.Search("quick fox", true)
	testutil.AssertNoError(t, err)

	block, err := st.Find("fox")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, block.AccessCount, 1)
}

func TestCachedSearchStillTracksAccess(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)

	_, err := r.Search("quick fox", true)
	testutil.AssertNoError(t, err)
	_, err = r.Search("quick fox", true)
	testutil.AssertNoError(t, err)

	block, err := st.Find("fox")
	testutil.AssertNoError(t, err)
	if block.AccessCount < 2 {
		t.Errorf("Expected access count >= 2 after cached search, got %d", block.AccessCount)
	}
}

func TestWorkingBlockIsNeverDemotedBySearch(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)

	for i := 0; i < 5; i++ {
		_, err := r.Search("quick fox", true)
		testutil.AssertNoError(t, err)
	}

	block, err := st.Find("fox")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, block.Tier, store.TierWorking)
	if block.AccessCount < 5 {
		t.Errorf("Expected working access count to keep accumulating, got %d", block.AccessCount)
	}
}

func TestPromotionFromShortTerm(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "st1", "deployment pipeline configuration details", store.TierShortTerm)

	block, err := st.Find("st1")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, r.TrackAccess(block))
	testutil.AssertNoError(t, r.TrackAccess(block))

	promoted, err := st.Find("st1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, promoted.Tier, store.TierWorking)
	testutil.AssertEqual(t, promoted.AccessCount, 0)
}

func TestPromotionFromStaleWalksAllTiers(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "old1", "ancient wisdom of the mountains", store.TierStale)

	block, err := st.Find("old1")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, r.TrackAccess(block))
	testutil.AssertNoError(t, r.TrackAccess(block))

	promoted, err := st.Find("old1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, promoted.Tier, store.TierWorking)
}

func TestPromotionCounterIsPerTier(t *testing.T) {
	cfg := lowThresholdConfig()
	cfg.PromotionThreshold = 3
	r, st := newTestRetriever(t, cfg)

	seed(t, st, "lt1", "long term content", store.TierLongTerm)

	block, err := st.Find("lt1")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, r.TrackAccess(block))
	testutil.AssertNoError(t, r.TrackAccess(block))

	// Two accesses are below the threshold, the block stays put
	still, err := st.Find("lt1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, still.Tier, store.TierLongTerm)

	testutil.AssertNoError(t, r.TrackAccess(block))

	promoted, err := st.Find("lt1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, promoted.Tier, store.TierWorking)
}

func TestLookupByW3W(t *testing.T) {
	r, st := newTestRetriever(t, DefaultConfig())

	b := store.NewBlock("w1", "summary block", 2, store.SignificanceUser)
	b.W3WReference = []string{"quick", "brown", "fox"}
	testutil.AssertNoError(t, st.Add(b))

	other := store.NewBlock("w2", "different block", 2, store.SignificanceUser)
	other.W3WReference = []string{"deploy", "config", "pipeline"}
	testutil.AssertNoError(t, st.Add(other))

	t.Run("AllWordsMatch", func(t *testing.T) {
		results, err := r.LookupByW3W([]string{"quick", "fox"})
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, len(results), 1)
		testutil.AssertEqual(t, results[0].ID, "w1")
	})

	t.Run("SubstringMatch", func(t *testing.T) {
		results, err := r.LookupByW3W([]string{"qui"})
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, len(results), 1)
		testutil.AssertEqual(t, results[0].ID, "w1")
	})

	t.Run("PartialMissMatchesNothing", func(t *testing.T) {
		results, err := r.LookupByW3W([]string{"quick", "pipeline"})
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, len(results), 0)
	})
}

func TestGetRelated(t *testing.T) {
	r, st := newTestRetriever(t, DefaultConfig())

	source := store.NewBlock("src", "source block", 2, store.SignificanceUser)
	source.References.Keywords = []string{"test", "reference"}
	source.References.RelatedBlocks = []string{"direct"}
	source.W3WReference = []string{"alpha", "beta", "gamma"}
	testutil.AssertNoError(t, st.Add(source))

	direct := store.NewBlock("direct", "directly referenced", 2, store.SignificanceUser)
	testutil.AssertNoError(t, st.Add(direct))

	byKeywords := store.NewBlock("keyed", "keyword twin", 2, store.SignificanceUser)
	byKeywords.References.Keywords = []string{"test", "reference", "extra"}
	testutil.AssertNoError(t, st.Add(byKeywords))

	oneKeyword := store.NewBlock("weak", "single keyword overlap", 2, store.SignificanceUser)
	oneKeyword.References.Keywords = []string{"test"}
	testutil.AssertNoError(t, st.Add(oneKeyword))

	byW3W := store.NewBlock("w3w", "w3w overlap", 2, store.SignificanceUser)
	byW3W.W3WReference = []string{"gamma", "delta", "epsilon"}
	testutil.AssertNoError(t, st.Add(byW3W))

	results, err := r.GetRelated("src")
	testutil.AssertNoError(t, err)

	found := map[string]bool{}
	for _, b := range results {
		found[b.ID] = true
	}

	if !found["direct"] {
		t.Error("Expected directly referenced block")
	}
	if !found["keyed"] {
		t.Error("Expected block sharing two keywords")
	}
	if !found["w3w"] {
		t.Error("Expected block sharing a w3w entry")
	}
	if found["weak"] {
		t.Error("Single shared keyword should not relate blocks")
	}
	if found["src"] {
		t.Error("Source block should not relate to itself")
	}
}

func TestGetRelatedUnknownIDReturnsNothing(t *testing.T) {
	r, _ := newTestRetriever(t, DefaultConfig())

	results, err := r.GetRelated("ghost")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(results), 0)
}

func TestClearCacheResetsPromotionCounters(t *testing.T) {
	r, st := newTestRetriever(t, lowThresholdConfig())

	seed(t, st, "st1", "short term content", store.TierShortTerm)

	block, err := st.Find("st1")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, r.TrackAccess(block))

	r.ClearCache()

	// Counter restarted: one more access is not enough to promote
	testutil.AssertNoError(t, r.TrackAccess(block))
	still, err := st.Find("st1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, still.Tier, store.TierShortTerm)
}

func TestCacheExpiry(t *testing.T) {
	cfg := lowThresholdConfig()
	cfg.CacheDuration = 50 * time.Millisecond
	r, st := newTestRetriever(t, cfg)

	seed(t, st, "fox", "The quick brown fox jumps over the lazy dog", store.TierWorking)

	first, err := r.Search("quick fox", true)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(first), 1)

	time.Sleep(80 * time.Millisecond)

	// Expired cache forces a fresh scan, which still finds the block
	second, err := r.Search("quick fox", true)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(second), 1)
}
