package nexus

import (
	"errors"
	"fmt"
	"time"

	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/internal/store"
)

var log = logging.GetLogger("nexus")

// Protection levels attached to nexus metadata. "low" is a reserved
// tag: counted in stats but never issued by the current rule.
const (
	ProtectionHigh   = "high"
	ProtectionMedium = "medium"
	ProtectionLow    = "low"
)

// Config holds the nexus manager tuning parameters
type Config struct {
	// MaxNexusPoints caps how many blocks may hold nexus status at once
	MaxNexusPoints int
	// NexusThreshold is the minimum importance for admission
	NexusThreshold float64
	// AccessWindow bounds how far back accesses count toward importance
	AccessWindow time.Duration
	// MinAccessCount is the access count that saturates the frequency score
	MinAccessCount int
	// MaxAccessHistory caps the per-block access deque
	MaxAccessHistory int
}

// DefaultConfig returns the default nexus manager configuration
func DefaultConfig() Config {
	return Config{
		MaxNexusPoints:   100,
		NexusThreshold:   0.5,
		AccessWindow:     time.Hour,
		MinAccessCount:   5,
		MaxAccessHistory: 1000,
	}
}

// Stats summarizes the current nexus point population.
type Stats struct {
	TotalCount        int            `json:"total_count"`
	ProtectionLevels  map[string]int `json:"protection_levels"`
	AverageImportance float64        `json:"average_importance"`
}

// Manager tracks per-block access history outside the persistent store
// and flips nexus status on store records as importance crosses the
// admission threshold.
type Manager struct {
	store *store.Store
	cfg   Config

	accessHistory map[string][]float64
	importance    map[string]float64
}

// NewManager creates a nexus manager over the given store
func NewManager(st *store.Store, cfg Config) *Manager {
	return &Manager{
		store:         st,
		cfg:           cfg,
		accessHistory: map[string][]float64{},
		importance:    map[string]float64{},
	}
}

// RegisterAccess records an access to a block, recomputes its
// importance, and re-evaluates nexus admission.
func (m *Manager) RegisterAccess(blockID string) error {
	now := store.Now()

	history := append(m.accessHistory[blockID], now)
	if len(history) > m.cfg.MaxAccessHistory {
		history = history[len(history)-m.cfg.MaxAccessHistory:]
	}
	m.accessHistory[blockID] = history

	m.cleanAccessHistory(blockID)

	if err := m.updateImportance(blockID); err != nil {
		return err
	}
	return m.checkNexusStatus(blockID)
}

// ReinforceNexusPoint bumps an existing nexus point's importance by 0.1
// (capped at 1.0) and rewrites its metadata. Non-nexus blocks are left
// untouched.
func (m *Manager) ReinforceNexusPoint(blockID string) error {
	block, err := m.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !block.IsNexus {
		return nil
	}

	score := m.importance[blockID] + 0.1
	if score > 1.0 {
		score = 1.0
	}
	m.importance[blockID] = score

	block.NexusMetadata = &store.NexusMetadata{
		ImportanceScore: score,
		ProtectionLevel: protectionLevel(block.Significance),
		LastUpdate:      store.Now(),
	}
	return m.store.Update(block)
}

// CheckNexusPoints performs periodic maintenance: stale access
// timestamps are dropped, importance scores recomputed, and admission
// re-evaluated for every tracked block.
func (m *Manager) CheckNexusPoints() error {
	for blockID := range m.accessHistory {
		m.cleanAccessHistory(blockID)
		if err := m.updateImportance(blockID); err != nil {
			return err
		}
	}

	for blockID := range m.importance {
		if err := m.checkNexusStatus(blockID); err != nil {
			return err
		}
	}
	return nil
}

// GetNexusPoints scans all tiers and returns the blocks currently
// flagged as nexus points.
func (m *Manager) GetNexusPoints() ([]*store.Block, error) {
	var points []*store.Block
	for _, tier := range store.Tiers() {
		blocks, err := m.store.Get(tier)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if b.IsNexus {
				points = append(points, b)
			}
		}
	}
	return points, nil
}

// GetNexusStats reports the nexus population, protection level counts,
// and average importance.
func (m *Manager) GetNexusStats() (*Stats, error) {
	points, err := m.GetNexusPoints()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalCount: len(points),
		ProtectionLevels: map[string]int{
			ProtectionHigh:   0,
			ProtectionMedium: 0,
			ProtectionLow:    0,
		},
	}

	total := 0.0
	for _, p := range points {
		level := ProtectionMedium
		if p.NexusMetadata != nil {
			if p.NexusMetadata.ProtectionLevel != "" {
				level = p.NexusMetadata.ProtectionLevel
			}
			total += p.NexusMetadata.ImportanceScore
		}
		stats.ProtectionLevels[level]++
	}

	count := len(points)
	if count == 0 {
		count = 1
	}
	stats.AverageImportance = total / float64(count)

	return stats, nil
}

// ImportanceScore returns the tracked importance for a block, or zero
// when the block has never been accessed.
func (m *Manager) ImportanceScore(blockID string) float64 {
	return m.importance[blockID]
}

// cleanAccessHistory drops access timestamps older than the window.
func (m *Manager) cleanAccessHistory(blockID string) {
	history, ok := m.accessHistory[blockID]
	if !ok {
		return
	}

	cutoff := store.Now() - m.cfg.AccessWindow.Seconds()
	kept := history[:0]
	for _, ts := range history {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	m.accessHistory[blockID] = kept
}

// updateImportance recomputes the weighted importance score for a block.
//
// The score combines access frequency within the window, recency of the
// latest access, reference fan-in, and a significance bonus:
//
//	0.4·frequency + 0.3·recency + 0.2·reference + 0.1·significance
func (m *Manager) updateImportance(blockID string) error {
	history, ok := m.accessHistory[blockID]
	if !ok {
		m.importance[blockID] = 0.0
		return nil
	}

	block, err := m.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	frequency := float64(len(history)) / float64(m.cfg.MinAccessCount)
	if frequency > 1.0 {
		frequency = 1.0
	}

	recency := 0.0
	if len(history) > 0 {
		latest := history[0]
		for _, ts := range history[1:] {
			if ts > latest {
				latest = ts
			}
		}
		age := store.Now() - latest
		recency = 1.0 / (1.0 + age/3600)
	}

	reference := float64(len(block.References.RelatedBlocks)) / 10.0
	if reference > 1.0 {
		reference = 1.0
	}

	bonus := significanceBonus(block.Significance)

	m.importance[blockID] = 0.4*frequency + 0.3*recency + 0.2*reference + 0.1*bonus
	return nil
}

func significanceBonus(s store.Significance) float64 {
	switch s {
	case store.SignificanceSystem:
		return 0.3
	case store.SignificanceUser:
		return 0.2
	case store.SignificanceLLM:
		return 0.1
	default:
		return 0.0
	}
}

// protectionLevel derives the protection tag from significance alone.
func protectionLevel(s store.Significance) string {
	if s == store.SignificanceSystem || s == store.SignificanceUser {
		return ProtectionHigh
	}
	return ProtectionMedium
}

// checkNexusStatus evaluates admission for a block: existing nexus
// points get refreshed metadata; candidates above the threshold are
// admitted, displacing the weakest incumbent when the cap is reached
// and the candidate strictly beats it.
func (m *Manager) checkNexusStatus(blockID string) error {
	importance, ok := m.importance[blockID]
	if !ok {
		return nil
	}

	points, err := m.GetNexusPoints()
	if err != nil {
		return err
	}

	for _, p := range points {
		if p.ID == blockID {
			return m.writeNexusMetadata(blockID, importance)
		}
	}

	if importance < m.cfg.NexusThreshold {
		return nil
	}

	if len(points) >= m.cfg.MaxNexusPoints {
		lowest := points[0]
		for _, p := range points[1:] {
			if m.importance[p.ID] < m.importance[lowest.ID] {
				lowest = p
			}
		}
		// Ties leave the incumbent in place
		if importance > m.importance[lowest.ID] {
			if err := m.removeNexusStatus(lowest.ID); err != nil {
				return err
			}
			return m.addNexusStatus(blockID)
		}
		return nil
	}

	return m.addNexusStatus(blockID)
}

// writeNexusMetadata refreshes the metadata on an existing nexus point.
func (m *Manager) writeNexusMetadata(blockID string, importance float64) error {
	block, err := m.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	block.NexusMetadata = &store.NexusMetadata{
		ImportanceScore: importance,
		ProtectionLevel: protectionLevel(block.Significance),
		LastUpdate:      store.Now(),
	}
	return m.store.Update(block)
}

// addNexusStatus flips a block to nexus and writes its metadata.
func (m *Manager) addNexusStatus(blockID string) error {
	block, err := m.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	importance, ok := m.importance[blockID]
	if !ok {
		importance = 0.5
	}

	block.IsNexus = true
	block.NexusMetadata = &store.NexusMetadata{
		ImportanceScore: importance,
		ProtectionLevel: protectionLevel(block.Significance),
		LastUpdate:      store.Now(),
	}

	log.Debug("nexus point admitted", "block_id", blockID, "importance", importance)
	return m.store.Update(block)
}

// removeNexusStatus strips nexus status and metadata from a block.
func (m *Manager) removeNexusStatus(blockID string) error {
	block, err := m.store.Find(blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	block.IsNexus = false
	block.NexusMetadata = nil

	log.Debug("nexus point evicted", "block_id", blockID)
	return m.store.Update(block)
}

// String renders nexus stats for logs and CLI output.
func (s *Stats) String() string {
	return fmt.Sprintf("nexus points: %d (high=%d medium=%d low=%d, avg importance %.2f)",
		s.TotalCount,
		s.ProtectionLevels[ProtectionHigh],
		s.ProtectionLevels[ProtectionMedium],
		s.ProtectionLevels[ProtectionLow],
		s.AverageImportance)
}
