package retriever

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/internal/nexus"
	"github.com/hiermem/hiermem/internal/store"
)

var log = logging.GetLogger("retriever")

// resultCacheSize bounds the search result cache; entries also expire
// after the configured cache duration.
const resultCacheSize = 128

// Config holds the retriever tuning parameters
type Config struct {
	// SimilarityThreshold is the minimum relevance for a search hit
	SimilarityThreshold float64
	// MaxResults caps how many blocks a search returns
	MaxResults int
	// PromotionThreshold is how many tracked accesses trigger promotion
	PromotionThreshold int
	// CacheDuration is the TTL for cached search results
	CacheDuration time.Duration
}

// DefaultConfig returns the default retriever configuration
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.3,
		MaxResults:          10,
		PromotionThreshold:  2,
		CacheDuration:       5 * time.Minute,
	}
}

// Retriever ranks blocks against free-text queries across all tiers,
// feeds access signals to the nexus manager, and promotes blocks back
// toward working memory on repeated retrieval.
type Retriever struct {
	store *store.Store
	nexus *nexus.Manager
	cfg   Config

	cache *expirable.LRU[string, []*store.Block]

	// promotions debounces tier promotion per (tier, block)
	promotions map[store.Tier]map[string]int
}

// NewRetriever creates a retriever over the given store and nexus manager
func NewRetriever(st *store.Store, nx *nexus.Manager, cfg Config) *Retriever {
	return &Retriever{
		store:      st,
		nexus:      nx,
		cfg:        cfg,
		cache:      expirable.NewLRU[string, []*store.Block](resultCacheSize, nil, cfg.CacheDuration),
		promotions: newPromotionCounters(),
	}
}

func newPromotionCounters() map[store.Tier]map[string]int {
	counters := map[store.Tier]map[string]int{}
	for _, tier := range store.Tiers() {
		counters[tier] = map[string]int{}
	}
	return counters
}

// Search returns the blocks most relevant to the query, best first.
// Working memory is always searched; lower tiers only when
// includeArchived is set. Cached results still count as accesses.
func (r *Retriever) Search(query string, includeArchived bool) ([]*store.Block, error) {
	cacheKey := fmt.Sprintf("%s:%t", query, includeArchived)
	if results, ok := r.cache.Get(cacheKey); ok {
		for _, block := range results {
			if err := r.TrackAccess(block); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	candidates, err := r.searchableBlocks(includeArchived)
	if err != nil {
		return nil, err
	}

	type scored struct {
		score float64
		block *store.Block
	}
	var hits []scored
	for _, block := range candidates {
		score := r.relevance(block, query)
		if score >= r.cfg.SimilarityThreshold {
			hits = append(hits, scored{score, block})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	if len(hits) > r.cfg.MaxResults {
		hits = hits[:r.cfg.MaxResults]
	}

	results := make([]*store.Block, 0, len(hits))
	for _, h := range hits {
		results = append(results, h.block)
	}

	for _, block := range results {
		if err := r.TrackAccess(block); err != nil {
			return nil, err
		}
	}

	r.cache.Add(cacheKey, results)
	return results, nil
}

// searchableBlocks gathers search candidates from working memory and,
// when requested, the archived tiers.
func (r *Retriever) searchableBlocks(includeArchived bool) ([]*store.Block, error) {
	tiers := []store.Tier{store.TierWorking}
	if includeArchived {
		tiers = append(tiers, store.TierShortTerm, store.TierLongTerm, store.TierStale)
	}

	var blocks []*store.Block
	for _, tier := range tiers {
		tierBlocks, err := r.store.Get(tier)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, tierBlocks...)
	}
	return blocks, nil
}

// relevance scores a block against a query in [0,1]:
//
//	0.4·content + 0.2·keywords + 0.1·w3w + 0.1·nexus + 0.1·recency + 0.1·tier
func (r *Retriever) relevance(block *store.Block, query string) float64 {
	contentSim := Ratio(strings.ToLower(query), strings.ToLower(block.Content))

	keywordScore := keywordScore(block, query)
	w3wScore := w3wScore(block, query)

	nexusBonus := 0.0
	if block.IsNexus {
		nexusBonus = 0.2
	}

	ageDays := block.Age().Hours() / 24
	recency := 1.0 / (1.0 + ageDays)

	tierBonus := 0.0
	switch block.Tier {
	case store.TierWorking:
		tierBonus = 0.2
	case store.TierShortTerm:
		tierBonus = 0.1
	case store.TierLongTerm:
		tierBonus = 0.05
	}

	return 0.4*contentSim +
		0.2*keywordScore +
		0.1*w3wScore +
		0.1*nexusBonus +
		0.1*recency +
		0.1*tierBonus
}

// keywordScore is the fraction of query words found among the block's
// keywords.
func keywordScore(block *store.Block, query string) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 || len(block.References.Keywords) == 0 {
		return 0.0
	}

	keywords := map[string]bool{}
	for _, k := range block.References.Keywords {
		keywords[strings.ToLower(k)] = true
	}

	seen := map[string]bool{}
	matches := 0
	for _, w := range queryWords {
		if seen[w] {
			continue
		}
		seen[w] = true
		if keywords[w] {
			matches++
		}
	}
	return float64(matches) / float64(len(seen))
}

// w3wScore is the fraction of w3w entries containing at least one query
// word as a substring.
func w3wScore(block *store.Block, query string) float64 {
	if len(block.W3WReference) == 0 {
		return 0.0
	}

	queryWords := strings.Fields(strings.ToLower(query))
	matches := 0
	for _, entry := range block.W3WReference {
		entry = strings.ToLower(entry)
		for _, qw := range queryWords {
			if strings.Contains(entry, qw) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(block.W3WReference))
}

// TrackAccess records a retrieval of a block: the persisted access
// count and the in-memory promotion counter both advance, the nexus
// manager learns of the access, and the block is promoted one or more
// tiers toward working memory once the counter reaches the threshold.
func (r *Retriever) TrackAccess(block *store.Block) error {
	current, err := r.store.Find(block.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	current.AccessCount++
	if err := r.store.Update(current); err != nil {
		return err
	}

	if err := r.nexus.RegisterAccess(current.ID); err != nil {
		return err
	}

	// Blocks already in working memory have nowhere to promote to; their
	// access count keeps accumulating
	if current.Tier == store.TierWorking {
		return nil
	}

	counters := r.promotions[current.Tier]
	counters[current.ID]++
	if counters[current.ID] < r.cfg.PromotionThreshold {
		return nil
	}

	if err := r.promote(current); err != nil {
		return err
	}
	counters[current.ID] = 0
	return nil
}

// promote walks a block up the hierarchy tier by tier until it reaches
// working memory, then resets its access count.
func (r *Retriever) promote(block *store.Block) error {
	var path []store.Tier
	switch block.Tier {
	case store.TierStale:
		path = []store.Tier{store.TierStale, store.TierLongTerm, store.TierShortTerm, store.TierWorking}
	case store.TierLongTerm:
		path = []store.Tier{store.TierLongTerm, store.TierShortTerm, store.TierWorking}
	case store.TierShortTerm:
		path = []store.Tier{store.TierShortTerm, store.TierWorking}
	default:
		return nil
	}

	for i := 0; i < len(path)-1; i++ {
		if err := r.store.Move(block.ID, path[i], path[i+1]); err != nil {
			return err
		}
	}

	promoted, err := r.store.Find(block.ID)
	if err != nil {
		return err
	}
	promoted.AccessCount = 0
	if err := r.store.Update(promoted); err != nil {
		return err
	}

	log.Info("block promoted", "block_id", block.ID, "from_tier", block.Tier.String())
	return nil
}

// LookupByW3W returns all blocks whose w3w reference matches every
// query word: each word must appear as a substring of at least one w3w
// entry. Matches count as accesses.
func (r *Retriever) LookupByW3W(words []string) ([]*store.Block, error) {
	candidates, err := r.searchableBlocks(true)
	if err != nil {
		return nil, err
	}

	var matched []*store.Block
	for _, block := range candidates {
		if len(block.W3WReference) == 0 {
			continue
		}
		if w3wMatchesAll(block.W3WReference, words) {
			matched = append(matched, block)
			if err := r.TrackAccess(block); err != nil {
				return nil, err
			}
		}
	}
	return matched, nil
}

func w3wMatchesAll(reference, words []string) bool {
	for _, qw := range words {
		qw = strings.ToLower(qw)
		found := false
		for _, entry := range reference {
			if strings.Contains(strings.ToLower(entry), qw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetRelated returns the blocks related to the given one: direct
// related_blocks references, blocks sharing at least two keywords, or
// blocks sharing a w3w entry. References are walked one hop only.
func (r *Retriever) GetRelated(blockID string) ([]*store.Block, error) {
	source, err := r.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	candidates, err := r.searchableBlocks(true)
	if err != nil {
		return nil, err
	}

	directRefs := map[string]bool{}
	for _, id := range source.References.RelatedBlocks {
		directRefs[id] = true
	}
	sourceKeywords := map[string]bool{}
	for _, k := range source.References.Keywords {
		sourceKeywords[k] = true
	}
	sourceW3W := map[string]bool{}
	for _, w := range source.W3WReference {
		sourceW3W[w] = true
	}

	var related []*store.Block
	for _, block := range candidates {
		if block.ID == source.ID {
			continue
		}

		if directRefs[block.ID] {
			related = append(related, block)
			continue
		}

		shared := 0
		for _, k := range block.References.Keywords {
			if sourceKeywords[k] {
				shared++
			}
		}
		if shared >= 2 {
			related = append(related, block)
			continue
		}

		w3wOverlap := false
		for _, w := range block.W3WReference {
			if sourceW3W[w] {
				w3wOverlap = true
				break
			}
		}
		if w3wOverlap {
			related = append(related, block)
		}
	}

	for _, block := range related {
		if err := r.TrackAccess(block); err != nil {
			return nil, err
		}
	}
	return related, nil
}

// ClearCache drops cached search results and promotion counters.
func (r *Retriever) ClearCache() {
	r.cache.Purge()
	r.promotions = newPromotionCounters()
}
