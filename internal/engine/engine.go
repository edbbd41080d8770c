package engine

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/internal/nexus"
	"github.com/hiermem/hiermem/internal/pruner"
	"github.com/hiermem/hiermem/internal/retriever"
	"github.com/hiermem/hiermem/internal/stats"
	"github.com/hiermem/hiermem/internal/store"
	"github.com/hiermem/hiermem/pkg/config"
)

var log = logging.GetLogger("engine")

// Engine is the hierarchical memory engine: the tiered store, pruner,
// nexus manager, retriever, and statistics wired together behind the
// top-level operations. A single mutex serializes operations: one
// logical executor at a time runs an operation from start to finish.
type Engine struct {
	mu sync.Mutex

	store     *store.Store
	pruner    *pruner.Pruner
	nexus     *nexus.Manager
	retriever *retriever.Retriever
	stats     *stats.Statistics

	shortTermAge time.Duration
	longTermAge  time.Duration
}

// New creates an engine from configuration, opening (or initializing)
// the store under the configured base directory.
func New(cfg *config.Config) (*Engine, error) {
	st, err := store.Open(cfg.Memory.BaseDir)
	if err != nil {
		return nil, wrap(err, "failed to initialize memory system")
	}

	nexusManager := nexus.NewManager(st, nexus.Config{
		MaxNexusPoints:   cfg.Memory.MaxNexusPoints,
		NexusThreshold:   cfg.Memory.NexusThreshold,
		AccessWindow:     cfg.Memory.AccessWindow,
		MinAccessCount:   cfg.Memory.MinAccessCount,
		MaxAccessHistory: cfg.Memory.MaxAccessHistory,
	})

	memoryPruner := pruner.NewPruner(st, pruner.Config{
		WorkingMemoryLimit: cfg.Memory.WorkingMemoryLimit,
		PruneThreshold:     cfg.Memory.PruneThreshold,
		MinAccessThreshold: cfg.Memory.MinAccessThreshold,
		MinAgeForPruning:   cfg.Memory.MinAgeForPruning,
		PruneBatchSize:     cfg.Memory.PruneBatchSize,
	})

	memoryRetriever := retriever.NewRetriever(st, nexusManager, retriever.Config{
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		MaxResults:          cfg.Memory.MaxResults,
		PromotionThreshold:  cfg.Memory.PromotionThreshold,
		CacheDuration:       cfg.Memory.CacheDuration,
	})

	statistics, err := stats.NewStatistics(st, "", stats.Config{
		RetentionDays:      cfg.Stats.RetentionDays,
		SnapshotInterval:   cfg.Stats.SnapshotInterval,
		PerformanceLogSize: cfg.Stats.PerformanceLogSize,
	})
	if err != nil {
		return nil, wrap(err, "failed to initialize memory system")
	}

	return &Engine{
		store:        st,
		pruner:       memoryPruner,
		nexus:        nexusManager,
		retriever:    memoryRetriever,
		stats:        statistics,
		shortTermAge: cfg.Memory.ShortTermAge,
		longTermAge:  cfg.Memory.LongTermAge,
	}, nil
}

// AddMemory stores new content as a working-memory block and returns
// its id. Adding may trigger pruning and, when pruning demoted blocks,
// a full maintenance pass.
func (e *Engine) AddMemory(content string, significance store.Significance) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if content == "" {
		err := errorf("cannot add empty memory")
		e.recordFailure(start, err)
		return "", err
	}

	block := store.NewBlock("mem_"+uuid.NewString(), content, len(strings.Fields(content)), significance)
	if err := e.store.Add(block); err != nil {
		e.recordFailure(start, err)
		return "", wrap(err, "failed to add memory")
	}

	pruned, err := e.pruner.CheckAndPrune()
	if err != nil {
		e.recordFailure(start, err)
		return "", wrap(err, "failed to add memory")
	}
	if pruned {
		if err := e.maintain(); err != nil {
			e.recordFailure(start, err)
			return "", wrap(err, "failed to add memory")
		}
	}

	duration := time.Since(start)
	e.stats.RecordOperation("add", store.TierWorking, duration, 1, block.Tokens)
	e.stats.RecordPerformance(duration, e.memoryUsage(), true, "")

	log.Debug("memory added", "block_id", block.ID, "tokens", block.Tokens)
	return block.ID, nil
}

// SearchMemory returns the blocks most relevant to the query, best
// first. Archived tiers are included unless includeArchived is false.
func (e *Engine) SearchMemory(query string, includeArchived bool) ([]*store.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if query == "" {
		err := errorf("cannot search with empty query")
		e.recordFailure(start, err)
		return nil, err
	}

	results, err := e.retriever.Search(query, includeArchived)
	if err != nil {
		e.recordFailure(start, err)
		return nil, wrap(err, "failed to search memory")
	}

	duration := time.Since(start)
	e.stats.RecordOperation("search", store.TierWorking, duration, len(results), totalTokens(results))
	e.stats.RecordPerformance(duration, e.memoryUsage(), true, "")

	return results, nil
}

// GetRelatedMemories returns the blocks related to an existing block.
func (e *Engine) GetRelatedMemories(id string) ([]*store.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if id == "" {
		err := errorf("cannot get related memories for empty id")
		e.recordFailure(start, err)
		return nil, err
	}

	if _, err := e.store.Find(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			inputErr := errorf("memory %s not found", id)
			e.recordFailure(start, inputErr)
			return nil, inputErr
		}
		e.recordFailure(start, err)
		return nil, wrap(err, "failed to get related memories")
	}

	results, err := e.retriever.GetRelated(id)
	if err != nil {
		e.recordFailure(start, err)
		return nil, wrap(err, "failed to get related memories")
	}

	duration := time.Since(start)
	e.stats.RecordOperation("get_related", store.TierWorking, duration, len(results), totalTokens(results))
	e.stats.RecordPerformance(duration, e.memoryUsage(), true, "")

	return results, nil
}

// LookupByW3W returns the blocks whose w3w reference matches every
// given word.
func (e *Engine) LookupByW3W(words []string) ([]*store.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if len(words) == 0 {
		err := errorf("cannot lookup with empty words")
		e.recordFailure(start, err)
		return nil, err
	}

	results, err := e.retriever.LookupByW3W(words)
	if err != nil {
		e.recordFailure(start, err)
		return nil, wrap(err, "failed to lookup by w3w")
	}

	duration := time.Since(start)
	e.stats.RecordOperation("w3w_lookup", store.TierWorking, duration, len(results), totalTokens(results))
	e.stats.RecordPerformance(duration, e.memoryUsage(), true, "")

	return results, nil
}

// GetMemoryByID returns a block by id, or nil when absent. A hit counts
// as an access.
func (e *Engine) GetMemoryByID(id string) (*store.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == "" {
		return nil, errorf("cannot get memory with empty id")
	}

	block, err := e.store.Find(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, wrap(err, "failed to get memory by id")
	}

	if err := e.retriever.TrackAccess(block); err != nil {
		return nil, wrap(err, "failed to get memory by id")
	}

	// Re-read: tracking may have promoted the block
	current, err := e.store.Find(id)
	if err != nil {
		return nil, wrap(err, "failed to get memory by id")
	}
	return current, nil
}

// GetNexusPoints returns all blocks currently flagged as nexus points.
func (e *Engine) GetNexusPoints() ([]*store.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	points, err := e.nexus.GetNexusPoints()
	if err != nil {
		return nil, wrap(err, "failed to get nexus points")
	}
	return points, nil
}

// MemoryStats is the composite statistics view over the whole engine.
type MemoryStats struct {
	MemoryState *store.Stats   `json:"memory_state"`
	NexusPoints *nexus.Stats   `json:"nexus_points"`
	Performance map[string]any `json:"performance"`
}

// GetMemoryStats returns memory state, nexus population, and
// performance aggregates.
func (e *Engine) GetMemoryStats() (*MemoryStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	memoryState, err := e.store.Stats()
	if err != nil {
		return nil, wrap(err, "failed to get memory stats")
	}
	nexusStats, err := e.nexus.GetNexusStats()
	if err != nil {
		return nil, wrap(err, "failed to get memory stats")
	}
	performance, err := e.stats.PerformanceReport()
	if err != nil {
		return nil, wrap(err, "failed to get memory stats")
	}

	return &MemoryStats{
		MemoryState: memoryState,
		NexusPoints: nexusStats,
		Performance: performance,
	}, nil
}

// MaintainSystem runs the maintenance tasks: pruning, cascade
// demotions, nexus upkeep, and cache clearing. On a quiescent store a
// second consecutive call changes nothing.
func (e *Engine) MaintainSystem() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if err := e.maintain(); err != nil {
		e.recordFailure(start, err)
		return wrap(err, "failed to maintain system")
	}

	e.stats.RecordOperation("maintenance", store.TierWorking, time.Since(start), 0, 0)
	return nil
}

// maintain performs the maintenance work. Callers hold the mutex.
func (e *Engine) maintain() error {
	if _, err := e.pruner.CheckAndPrune(); err != nil {
		return err
	}
	if err := e.pruner.CheckAndArchiveShortTerm(e.shortTermAge); err != nil {
		return err
	}
	if err := e.pruner.CheckAndArchiveLongTerm(e.longTermAge); err != nil {
		return err
	}
	if err := e.nexus.CheckNexusPoints(); err != nil {
		return err
	}
	e.retriever.ClearCache()
	return nil
}

// recordFailure writes a failed performance sample for an operation.
func (e *Engine) recordFailure(start time.Time, err error) {
	e.stats.RecordPerformance(time.Since(start), e.memoryUsage(), false, err.Error())
}

// memoryUsage reports total stored tokens, zero when unreadable.
func (e *Engine) memoryUsage() int {
	memoryStats, err := e.store.Stats()
	if err != nil {
		return 0
	}
	return memoryStats.TotalTokens
}

func totalTokens(blocks []*store.Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Tokens
	}
	return total
}
