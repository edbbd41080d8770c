package pruner

import (
	"sort"
	"time"

	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/internal/store"
)

var log = logging.GetLogger("pruner")

// Config holds the pruner tuning parameters
type Config struct {
	// WorkingMemoryLimit is the nominal token budget for working memory.
	// The pruner does not read it; pruning is driven by PruneThreshold.
	WorkingMemoryLimit int
	// PruneThreshold is the token count above which pruning kicks in
	PruneThreshold int
	// MinAccessThreshold marks rarely-accessed blocks as prune candidates
	MinAccessThreshold int
	// MinAgeForPruning protects recently created blocks
	MinAgeForPruning time.Duration
	// PruneBatchSize caps how many blocks a single pass demotes
	PruneBatchSize int
}

// DefaultConfig returns the default pruner configuration
func DefaultConfig() Config {
	return Config{
		WorkingMemoryLimit: 200000,
		PruneThreshold:     150000,
		MinAccessThreshold: 5,
		MinAgeForPruning:   time.Hour,
		PruneBatchSize:     5,
	}
}

// Pruner demotes working-memory blocks down the tier hierarchy when the
// working tier outgrows its token budget, leaving w3w-based summary
// blocks behind.
type Pruner struct {
	store *store.Store
	cfg   Config
}

// NewPruner creates a pruner over the given store
func NewPruner(st *store.Store, cfg Config) *Pruner {
	return &Pruner{store: st, cfg: cfg}
}

// CheckAndPrune prunes working memory if its token count exceeds the
// threshold. It reports whether any block was demoted.
func (p *Pruner) CheckAndPrune() (bool, error) {
	stats, err := p.store.Stats()
	if err != nil {
		return false, err
	}

	if stats.Tiers[store.TierWorking.String()].Tokens <= p.cfg.PruneThreshold {
		return false, nil
	}
	return p.pruneWorkingMemory()
}

// pruneWorkingMemory demotes the highest-priority prunable blocks until
// the batch is exhausted or working memory drops back under the
// threshold.
func (p *Pruner) pruneWorkingMemory() (bool, error) {
	working, err := p.store.Get(store.TierWorking)
	if err != nil {
		return false, err
	}

	// Nexus points and recent blocks are never pruned
	var prunable []*store.Block
	for _, block := range working {
		if block.IsNexus {
			continue
		}
		if block.Age() <= p.cfg.MinAgeForPruning {
			continue
		}
		prunable = append(prunable, block)
	}

	if len(prunable) == 0 {
		return false, nil
	}

	sort.SliceStable(prunable, func(i, j int) bool {
		return p.blockPriority(prunable[i]) > p.blockPriority(prunable[j])
	})

	pruned := 0
	for _, block := range prunable {
		if pruned >= p.cfg.PruneBatchSize {
			break
		}

		if err := p.demote(block); err != nil {
			return pruned > 0, err
		}
		pruned++

		stats, err := p.store.Stats()
		if err != nil {
			return pruned > 0, err
		}
		if stats.Tiers[store.TierWorking.String()].Tokens <= p.cfg.PruneThreshold {
			break
		}
	}

	log.Info("working memory pruned", "demoted", pruned)
	return pruned > 0, nil
}

// blockPriority scores a prunable block in [0,1]; higher scores are
// evicted first.
func (p *Pruner) blockPriority(block *store.Block) float64 {
	priority := 0.0
	age := block.Age()

	switch {
	case age > 24*time.Hour:
		priority += 0.6
	case age > time.Hour:
		priority += 0.3
	}

	if block.AccessCount < p.cfg.MinAccessThreshold {
		priority += 0.4
	}

	switch block.Significance {
	case store.SignificanceSystem:
		priority -= 0.3
	case store.SignificanceUser:
		priority -= 0.2
	}

	if priority < 0.0 {
		priority = 0.0
	}
	if priority > 1.0 {
		priority = 1.0
	}
	return priority
}

// demote replaces a working block with a summary stand-in and moves the
// original to short-term memory. The summary block is visible in
// working memory before the original leaves it.
func (p *Pruner) demote(block *store.Block) error {
	w3wTokens := TokenizeW3W(block.Content)

	summary := &store.Block{
		ID:           block.ID + "_summary",
		Content:      store.SummaryPlaceholder(w3wTokens),
		Tokens:       len(w3wTokens) + 2,
		Timestamp:    store.Now(),
		Significance: block.Significance,
		Tier:         store.TierWorking,
		W3WReference: w3wTokens,
		References: store.References{
			Keywords:      append([]string{}, block.References.Keywords...),
			RelatedBlocks: append([]string{block.ID}, block.References.RelatedBlocks...),
		},
	}

	if err := p.store.Add(summary); err != nil {
		return err
	}

	// Record the w3w handle on the original before it leaves working
	// memory so the generated summary payload reflects it
	block.W3WReference = w3wTokens
	if err := p.store.Update(block); err != nil {
		return err
	}

	log.Debug("block demoted", "block_id", block.ID, "summary_id", summary.ID)
	return p.store.Move(block.ID, store.TierWorking, store.TierShortTerm)
}

// CheckAndArchiveShortTerm moves short-term blocks older than the
// threshold and rarely accessed down to long-term memory.
func (p *Pruner) CheckAndArchiveShortTerm(ageThreshold time.Duration) error {
	blocks, err := p.store.Get(store.TierShortTerm)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		if block.Age() > ageThreshold && block.AccessCount < p.cfg.MinAccessThreshold {
			if err := p.store.Move(block.ID, store.TierShortTerm, store.TierLongTerm); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckAndArchiveLongTerm moves long-term blocks older than the
// threshold and rarely accessed down to the stale tier. Nothing leaves
// stale except retrieval-triggered promotion.
func (p *Pruner) CheckAndArchiveLongTerm(ageThreshold time.Duration) error {
	blocks, err := p.store.Get(store.TierLongTerm)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		if block.Age() > ageThreshold && block.AccessCount < p.cfg.MinAccessThreshold {
			if err := p.store.Move(block.ID, store.TierLongTerm, store.TierStale); err != nil {
				return err
			}
		}
	}
	return nil
}
