package filestore

import (
	"context"
	"os"
	"time"

	"ba-agent-core/pkg/types"
)

// janitorOrder is the per-category sweep order the janitor sweeps in:
// cache, then temp, then everything else.
var janitorOrder = []types.Category{
	types.CategoryCache,
	types.CategoryTemp,
	types.CategoryArtifact,
	types.CategoryUpload,
	types.CategoryReport,
	types.CategoryChart,
	types.CategoryCode,
	types.CategoryCheckpoint,
}

// SweepResult reports the per-category counts of one janitor pass.
type SweepResult struct {
	DeletedByCategory map[types.Category]int
	RanAt time.Time
}

// Sweep deletes every expired item across indexed categories, in the order
// cache -> temp -> others, and returns per-category counts.
func (s *Store) Sweep() SweepResult {
	result := SweepResult{DeletedByCategory: make(map[types.Category]int), RanAt: time.Now().UTC()}
	now := time.Now().UTC()
	for _, cat := range janitorOrder {
		idx, ok := s.indices[cat]
		if !ok {
			continue
		}
		ids, err := idx.expired(now)
		if err != nil {
			s.log.Warn("janitor: failed to list expired entries", "category", string(cat), "error", err.Error())
			continue
		}
		count := 0
		for _, id := range ids {
			s.evict(cat, id)
			count++
		}
		if count > 0 {
			result.DeletedByCategory[cat] = count
		}
	}
	return result
}

// totalUsageBytes walks every category directory and sums file sizes, used
// to decide whether usage has crossed cleanup_threshold_percent early.
func (s *Store) totalUsageBytes() int64 {
	var total int64
	for catName := range s.cfg.Categories {
		dir := s.categoryDir(types.Category(catName))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if info, err := e.Info(); err == nil {
				total += info.Size()
			}
		}
	}
	return total
}

// RunJanitor blocks, waking every cleanup_interval (or sooner, if usage
// crosses cleanup_threshold_percent of max_total_size_gb), sweeping expired
// items until ctx is cancelled. It returns promptly after cancellation -
// within one tick, per the watcher/janitor cancellation contract in §5.
func (s *Store) RunJanitor(ctx context.Context) {
	interval := time.Duration(s.cfg.CleanupIntervalHours * float64(time.Hour))
	if interval <= 0 {
		interval = time.Hour
	}
	checkTicker := time.NewTicker(interval / 4)
	if interval < 4*time.Second {
		checkTicker = time.NewTicker(time.Second)
	}
	defer checkTicker.Stop()

	lastSweep := time.Time{}
	for {
		select {
		case <-ctx.Done():
			s.log.Info("janitor stopping")
			return
		case <-checkTicker.C:
			due := time.Since(lastSweep) >= interval
			if !due && s.cfg.MaxTotalSizeGB > 0 {
				maxBytes := int64(s.cfg.MaxTotalSizeGB * 1024 * 1024 * 1024)
				thresholdBytes := int64(float64(maxBytes) * s.cfg.CleanupThresholdPct / 100.0)
				if s.totalUsageBytes() >= thresholdBytes {
					due = true
				}
			}
			if due {
				res := s.Sweep()
				lastSweep = time.Now().UTC()
				for cat, n := range res.DeletedByCategory {
					s.log.Info("janitor swept category", "category", string(cat), "deleted", n)
				}
			}
		}
	}
}
