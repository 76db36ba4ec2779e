package pipeline

import (
	"context"
	"time"

	"github.com/markertrack/markertrack/internal/logger"
)

// dropRatioGauge is implemented by recorders exposing the frame drop ratio
type dropRatioGauge interface {
	SetDropRatio(ratio float64)
}

// HealthReport compares two Stats snapshots taken one interval apart
type HealthReport struct {
	Submitted uint64  `json:"submitted"`
	Cycles    uint64  `json:"cycles"`
	Dropped   uint64  `json:"dropped"`
	DropRatio float64 `json:"drop_ratio"`
	Stalled   bool    `json:"stalled"`
}

// checkHealth reports what happened between prev and cur. The pipeline is
// stalled when frames kept arriving but no detection cycle completed.
func checkHealth(prev, cur Stats) HealthReport {
	r := HealthReport{
		Submitted: cur.Submitted - prev.Submitted,
		Cycles:    cur.Cycles - prev.Cycles,
		Dropped:   cur.Dropped - prev.Dropped,
	}
	if r.Submitted > 0 {
		r.DropRatio = float64(r.Dropped) / float64(r.Submitted)
	}
	r.Stalled = cur.Running && r.Submitted > 0 && r.Cycles == 0
	return r
}

// RunHealthMonitor samples the counters every interval until ctx is done,
// updating the drop ratio gauge and warning when the pipeline stalls.
func (c *Coordinator) RunHealthMonitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := c.Stats()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := c.Stats()
			report := checkHealth(prev, cur)
			prev = cur

			if g, ok := c.recorder.(dropRatioGauge); ok {
				g.SetDropRatio(report.DropRatio)
			}
			if report.Stalled {
				c.logger.Warn("pipeline stalled, frames submitted but no detection cycle completed",
					logger.Uint64("submitted", report.Submitted),
					logger.String("stage", cur.Stage),
					logger.Duration("interval", interval))
			}
		}
	}
}
