package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hiermem/hiermem/internal/store"
	"github.com/hiermem/hiermem/internal/testutil"
)

func newTestStatistics(t *testing.T, cfg Config) (*Statistics, *store.Store) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	s, err := NewStatistics(st, "", cfg)
	if err != nil {
		t.Fatalf("Failed to create statistics: %v", err)
	}
	return s, st
}

func TestNewStatisticsCreatesDirectories(t *testing.T) {
	s, st := newTestStatistics(t, DefaultConfig())
	_ = s

	for _, sub := range []string{"daily", "snapshots", "performance"} {
		path := filepath.Join(st.BaseDir(), "statistics", sub)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s to exist: %v", path, err)
		}
	}
}

func TestRecordOperationWritesDailyFile(t *testing.T) {
	s, st := newTestStatistics(t, DefaultConfig())

	s.RecordOperation("add", store.TierWorking, 5*time.Millisecond, 1, 10)

	date := time.Now().Format("2006-01-02")
	dailyFile := filepath.Join(st.BaseDir(), "statistics", "daily", date+".json")

	var daily DailyStats
	testutil.ReadJSON(t, dailyFile, &daily)
	testutil.AssertEqual(t, daily.Date, date)
}

func TestDailyStatisticsAggregation(t *testing.T) {
	s, st := newTestStatistics(t, DefaultConfig())

	testutil.AssertNoError(t, st.Add(store.NewBlock("b1", "one two three", 3, store.SignificanceUser)))

	s.RecordOperation("add", store.TierWorking, 2*time.Millisecond, 1, 3)
	s.RecordOperation("search", store.TierWorking, 4*time.Millisecond, 2, 6)
	s.RecordOperation("search", store.TierShortTerm, 4*time.Millisecond, 1, 2)

	s.RecordPerformance(2*time.Millisecond, 3, true, "")
	s.RecordPerformance(4*time.Millisecond, 3, true, "")
	s.RecordPerformance(6*time.Millisecond, 3, false, "boom")

	daily, err := s.DailyStatistics()
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, daily.Operations.TotalCount, 3)
	testutil.AssertEqual(t, daily.Operations.ByType["add"], 1)
	testutil.AssertEqual(t, daily.Operations.ByType["search"], 2)
	testutil.AssertEqual(t, daily.Operations.ByTier["working"], 2)
	testutil.AssertEqual(t, daily.Operations.ByTier["short_term"], 1)

	testutil.AssertEqual(t, daily.Performance.ErrorCount, 1)
	if daily.Performance.SuccessRate < 0.66 || daily.Performance.SuccessRate > 0.67 {
		t.Errorf("Expected success rate 2/3, got %f", daily.Performance.SuccessRate)
	}
	if daily.Performance.AverageOperationTime <= 0 {
		t.Error("Expected positive average operation time")
	}

	testutil.AssertEqual(t, daily.MemoryUsage["working"].Blocks, 1)
	testutil.AssertEqual(t, daily.MemoryUsage["working"].Tokens, 3)
}

func TestPerformanceRingIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerformanceLogSize = 5
	s, _ := newTestStatistics(t, cfg)

	for i := 0; i < 20; i++ {
		s.RecordPerformance(time.Millisecond, 1, true, "")
	}

	testutil.AssertEqual(t, len(s.performanceLog), 5)
}

func TestSnapshotWritten(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0 // snapshot on every record
	s, st := newTestStatistics(t, cfg)

	s.RecordOperation("add", store.TierWorking, time.Millisecond, 1, 1)

	entries, err := os.ReadDir(filepath.Join(st.BaseDir(), "statistics", "snapshots"))
	testutil.AssertNoError(t, err)
	if len(entries) == 0 {
		t.Fatal("Expected at least one snapshot file")
	}
	testutil.AssertStringContains(t, entries[0].Name(), "snapshot_")
}

func TestCleanupRemovesExpiredFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 30
	s, st := newTestStatistics(t, cfg)

	dailyDir := filepath.Join(st.BaseDir(), "statistics", "daily")
	oldDate := time.Now().Add(-60 * 24 * time.Hour).Format("2006-01-02")
	oldDaily := filepath.Join(dailyDir, oldDate+".json")
	testutil.AssertNoError(t, os.WriteFile(oldDaily, []byte("{}"), 0644))

	snapshotsDir := filepath.Join(st.BaseDir(), "statistics", "snapshots")
	oldStamp := time.Now().Add(-60 * 24 * time.Hour).Unix()
	oldSnapshot := filepath.Join(snapshotsDir, fmt.Sprintf("snapshot_%d.json", oldStamp))
	testutil.AssertNoError(t, os.WriteFile(oldSnapshot, []byte("{}"), 0644))

	s.RecordOperation("add", store.TierWorking, time.Millisecond, 1, 1)

	if _, err := os.Stat(oldDaily); !os.IsNotExist(err) {
		t.Error("Expected expired daily file to be removed")
	}
	if _, err := os.Stat(oldSnapshot); !os.IsNotExist(err) {
		t.Error("Expected expired snapshot to be removed")
	}
}

func TestPerformanceReportShape(t *testing.T) {
	s, _ := newTestStatistics(t, DefaultConfig())

	s.RecordOperation("add", store.TierWorking, time.Millisecond, 1, 1)
	s.RecordPerformance(time.Millisecond, 1, true, "")

	report, err := s.PerformanceReport()
	testutil.AssertNoError(t, err)

	for _, key := range []string{"timestamp", "daily_stats", "performance_summary", "operation_summary", "memory_state"} {
		if _, ok := report[key]; !ok {
			t.Errorf("Report missing %s", key)
		}
	}
}

func TestClearLogs(t *testing.T) {
	s, _ := newTestStatistics(t, DefaultConfig())

	s.RecordOperation("add", store.TierWorking, time.Millisecond, 1, 1)
	s.RecordPerformance(time.Millisecond, 1, true, "")

	s.ClearLogs()

	daily, err := s.DailyStatistics()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, daily.Operations.TotalCount, 0)
	testutil.AssertEqual(t, daily.Performance.ErrorCount, 0)
}
