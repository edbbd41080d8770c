package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hiermem/hiermem/internal/logging"
	"github.com/hiermem/hiermem/internal/store"
)

var log = logging.GetLogger("stats")

// Config holds the statistics subsystem tuning parameters
type Config struct {
	// RetentionDays is how long daily files and snapshots are kept
	RetentionDays int
	// SnapshotInterval is how often a point-in-time snapshot is written
	SnapshotInterval time.Duration
	// PerformanceLogSize caps the in-memory performance ring
	PerformanceLogSize int
}

// DefaultConfig returns the default statistics configuration
func DefaultConfig() Config {
	return Config{
		RetentionDays:      30,
		SnapshotInterval:   time.Hour,
		PerformanceLogSize: 1000,
	}
}

// OperationMetrics records a single engine operation
type OperationMetrics struct {
	Operation  string        `json:"operation"`
	Timestamp  float64       `json:"timestamp"`
	Duration   time.Duration `json:"-"`
	Tier       store.Tier    `json:"-"`
	BlockCount int           `json:"block_count"`
	TokenCount int           `json:"token_count"`
}

// PerformanceMetrics records one performance sample
type PerformanceMetrics struct {
	OperationTime time.Duration
	MemoryUsage   int
	Success       bool
	Error         string
}

// OperationStats aggregates the operation log
type OperationStats struct {
	TotalCount int            `json:"total_count"`
	ByType     map[string]int `json:"by_type"`
	ByTier     map[string]int `json:"by_tier"`
}

// PerformanceStats aggregates the performance ring
type PerformanceStats struct {
	AverageOperationTime float64 `json:"average_operation_time"`
	SuccessRate          float64 `json:"success_rate"`
	ErrorCount           int     `json:"error_count"`
}

// DailyStats is the shape written to the daily metrics file
type DailyStats struct {
	Date        string                     `json:"date"`
	Operations  OperationStats             `json:"operations"`
	Performance PerformanceStats           `json:"performance"`
	MemoryUsage map[string]store.TierStats `json:"memory_usage"`
}

// Statistics records operational and performance metrics and writes
// daily aggregates and periodic snapshots under the stats directory.
// The engine reads it back only through PerformanceReport, for its
// stats operation.
type Statistics struct {
	store    *store.Store
	statsDir string
	cfg      Config

	performanceLog []PerformanceMetrics
	operationLog   []OperationMetrics
	lastSnapshot   float64
}

// NewStatistics creates a statistics recorder. An empty statsDir places
// the metrics under <store base dir>/statistics.
func NewStatistics(st *store.Store, statsDir string, cfg Config) (*Statistics, error) {
	if statsDir == "" {
		statsDir = filepath.Join(st.BaseDir(), "statistics")
	}

	s := &Statistics{
		store:    st,
		statsDir: statsDir,
		cfg:      cfg,
	}

	for _, sub := range []string{"", "daily", "snapshots", "performance"} {
		if err := os.MkdirAll(filepath.Join(statsDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create stats directory: %w", err)
		}
	}

	return s, nil
}

// RecordOperation appends an operation sample and flushes daily files,
// snapshots, and retention as due. Sink failures are logged, never
// surfaced into the operation being recorded.
func (s *Statistics) RecordOperation(operation string, tier store.Tier, duration time.Duration, blockCount, tokenCount int) {
	s.operationLog = append(s.operationLog, OperationMetrics{
		Operation:  operation,
		Timestamp:  store.Now(),
		Duration:   duration,
		Tier:       tier,
		BlockCount: blockCount,
		TokenCount: tokenCount,
	})

	s.checkAndSaveMetrics()
}

// RecordPerformance appends a performance sample to the ring buffer.
func (s *Statistics) RecordPerformance(operationTime time.Duration, memoryUsage int, success bool, errMsg string) {
	s.performanceLog = append(s.performanceLog, PerformanceMetrics{
		OperationTime: operationTime,
		MemoryUsage:   memoryUsage,
		Success:       success,
		Error:         errMsg,
	})

	if len(s.performanceLog) > s.cfg.PerformanceLogSize {
		s.performanceLog = s.performanceLog[len(s.performanceLog)-s.cfg.PerformanceLogSize:]
	}
}

// checkAndSaveMetrics writes the daily file if absent, takes a snapshot
// when the interval has elapsed, and purges expired files.
func (s *Statistics) checkAndSaveMetrics() {
	date := time.Now().Format("2006-01-02")
	dailyFile := filepath.Join(s.statsDir, "daily", date+".json")
	if _, err := os.Stat(dailyFile); os.IsNotExist(err) {
		s.saveDailyMetrics(dailyFile)
	}

	now := store.Now()
	if now-s.lastSnapshot >= s.cfg.SnapshotInterval.Seconds() {
		s.takeSnapshot()
		s.lastSnapshot = now
	}

	s.cleanupOldMetrics()
}

func (s *Statistics) saveDailyMetrics(path string) {
	daily, err := s.DailyStatistics()
	if err != nil {
		log.Warn("failed to compute daily statistics", "error", err)
		return
	}

	data, err := json.MarshalIndent(daily, "", "  ")
	if err != nil {
		log.Warn("failed to encode daily statistics", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn("failed to write daily statistics", "path", path, "error", err)
	}
}

// takeSnapshot writes a point-in-time view of the memory state and the
// aggregated logs.
func (s *Statistics) takeSnapshot() {
	memoryStats, err := s.store.Stats()
	if err != nil {
		log.Warn("failed to read store stats for snapshot", "error", err)
		return
	}

	snapshot := map[string]any{
		"timestamp":           store.Now(),
		"memory_stats":        memoryStats,
		"performance_metrics": s.performanceSummary(),
		"operation_metrics":   s.operationSummary(),
	}

	path := filepath.Join(s.statsDir, "snapshots", fmt.Sprintf("snapshot_%d.json", time.Now().Unix()))
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.Warn("failed to encode snapshot", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn("failed to write snapshot", "path", path, "error", err)
	}
}

// cleanupOldMetrics removes daily files and snapshots past retention.
func (s *Statistics) cleanupOldMetrics() {
	cutoff := time.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	dailyDir := filepath.Join(s.statsDir, "daily")
	entries, err := os.ReadDir(dailyDir)
	if err == nil {
		for _, entry := range entries {
			name := strings.TrimSuffix(entry.Name(), ".json")
			fileDate, err := time.Parse("2006-01-02", name)
			if err != nil {
				continue
			}
			if fileDate.Before(cutoff) {
				os.Remove(filepath.Join(dailyDir, entry.Name()))
			}
		}
	}

	snapshotsDir := filepath.Join(s.statsDir, "snapshots")
	entries, err = os.ReadDir(snapshotsDir)
	if err == nil {
		for _, entry := range entries {
			name := strings.TrimSuffix(entry.Name(), ".json")
			parts := strings.Split(name, "_")
			if len(parts) != 2 {
				continue
			}
			ts, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				continue
			}
			if time.Unix(ts, 0).Before(cutoff) {
				os.Remove(filepath.Join(snapshotsDir, entry.Name()))
			}
		}
	}
}

// DailyStatistics aggregates the logs and the current memory usage into
// the daily stats shape.
func (s *Statistics) DailyStatistics() (*DailyStats, error) {
	daily := &DailyStats{
		Date: time.Now().Format("2006-01-02"),
		Operations: OperationStats{
			TotalCount: len(s.operationLog),
			ByType:     map[string]int{},
			ByTier:     map[string]int{},
		},
		MemoryUsage: map[string]store.TierStats{},
	}
	for _, tier := range store.Tiers() {
		daily.Operations.ByTier[tier.String()] = 0
		daily.MemoryUsage[tier.String()] = store.TierStats{}
	}

	for _, op := range s.operationLog {
		daily.Operations.ByType[op.Operation]++
		daily.Operations.ByTier[op.Tier.String()]++
	}

	if len(s.performanceLog) > 0 {
		var total time.Duration
		successes := 0
		errorCount := 0
		for _, p := range s.performanceLog {
			total += p.OperationTime
			if p.Success {
				successes++
			} else {
				errorCount++
			}
		}
		daily.Performance = PerformanceStats{
			AverageOperationTime: total.Seconds() / float64(len(s.performanceLog)),
			SuccessRate:          float64(successes) / float64(len(s.performanceLog)),
			ErrorCount:           errorCount,
		}
	}

	memoryStats, err := s.store.Stats()
	if err != nil {
		return nil, err
	}
	for tier, bucket := range memoryStats.Tiers {
		daily.MemoryUsage[tier] = bucket
	}

	return daily, nil
}

// performanceSummary aggregates the performance ring for reports.
func (s *Statistics) performanceSummary() map[string]any {
	if len(s.performanceLog) == 0 {
		return map[string]any{}
	}

	var totalTime time.Duration
	totalMemory := 0
	successes := 0
	errorCount := 0
	for _, p := range s.performanceLog {
		totalTime += p.OperationTime
		totalMemory += p.MemoryUsage
		if p.Success {
			successes++
		} else {
			errorCount++
		}
	}

	n := float64(len(s.performanceLog))
	return map[string]any{
		"average_operation_time": totalTime.Seconds() / n,
		"success_rate":           float64(successes) / n,
		"error_count":            errorCount,
		"average_memory_usage":   float64(totalMemory) / n,
	}
}

// operationSummary aggregates the operation log for reports.
func (s *Statistics) operationSummary() map[string]any {
	if len(s.operationLog) == 0 {
		return map[string]any{}
	}

	counts := map[string]int{}
	durations := map[string]float64{}
	tierUsage := map[string]int{}
	for _, tier := range store.Tiers() {
		tierUsage[tier.String()] = 0
	}

	for _, op := range s.operationLog {
		counts[op.Operation]++
		durations[op.Operation] += op.Duration.Seconds()
		tierUsage[op.Tier.String()]++
	}
	for op := range durations {
		durations[op] /= float64(counts[op])
	}

	return map[string]any{
		"operation_counts":  counts,
		"average_durations": durations,
		"tier_usage":        tierUsage,
	}
}

// PerformanceReport builds the comprehensive report returned by the
// engine's stats operation.
func (s *Statistics) PerformanceReport() (map[string]any, error) {
	daily, err := s.DailyStatistics()
	if err != nil {
		return nil, err
	}
	memoryStats, err := s.store.Stats()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"timestamp":           store.Now(),
		"daily_stats":         daily,
		"performance_summary": s.performanceSummary(),
		"operation_summary":   s.operationSummary(),
		"memory_state":        memoryStats,
	}, nil
}

// ClearLogs drops the in-memory operation and performance logs.
func (s *Statistics) ClearLogs() {
	s.performanceLog = nil
	s.operationLog = nil
}
