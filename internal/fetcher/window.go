package fetcher

import (
	"time"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/logger"
	"github.com/tigerroll/tally/internal/watermark"
)

// WindowPlanner derives the half-open pull window [start, end) from the
// persisted watermark and the watermark tuning knobs.
type WindowPlanner struct {
	cfg   config.WatermarkConfig
	store *watermark.Store
}

// NewWindowPlanner creates a planner over the given store and tuning.
func NewWindowPlanner(cfg config.WatermarkConfig, store *watermark.Store) *WindowPlanner {
	return &WindowPlanner{cfg: cfg, store: store}
}

// Plan computes the pull window for a run starting at now. With a usable
// watermark the window starts overlap before the mark and ends at now,
// capped so one slice never spans more than max_window; a long outage is
// caught up max_window minus overlap at a time. Without a watermark, absent,
// corrupt, or in the future relative to now, the window is the fallback
// lookback ending at now. Bounds are truncated to whole seconds to match the
// upstream DateTime comparison granularity.
func (p *WindowPlanner) Plan(now time.Time) model.Window {
	const op = "WindowPlanner.Plan"
	now = now.Truncate(time.Second)

	if !p.cfg.Enabled {
		start := now.Add(-p.cfg.FallbackLookback())
		logger.Infof("%s: watermark disabled, using lookback of %.1fh: [%s, %s)",
			op, p.cfg.FallbackLookbackHours,
			start.Format(model.WindowTimeLayout), now.Format(model.WindowTimeLayout))
		return model.Window{Start: start, End: now}
	}

	wm := p.store.Load()
	if wm == nil {
		start := now.Add(-p.cfg.FallbackLookback())
		logger.Infof("%s: no usable watermark, falling back to lookback of %.1fh: [%s, %s)",
			op, p.cfg.FallbackLookbackHours,
			start.Format(model.WindowTimeLayout), now.Format(model.WindowTimeLayout))
		return model.Window{Start: start, End: now}
	}

	mark := wm.LastEndTime.In(now.Location()).Truncate(time.Second)
	if mark.After(now) {
		start := now.Add(-p.cfg.FallbackLookback())
		logger.Warnf("%s: watermark %s is in the future of now %s (clock skew or restored state), falling back to lookback: [%s, %s)",
			op, mark.Format(model.WindowTimeLayout), now.Format(model.WindowTimeLayout),
			start.Format(model.WindowTimeLayout), now.Format(model.WindowTimeLayout))
		return model.Window{Start: start, End: now}
	}

	start := mark.Add(-p.cfg.Overlap())
	end := now
	if max := p.cfg.MaxWindow(); max > 0 && end.Sub(start) > max {
		end = start.Add(max)
		if end.Before(mark) {
			// max_window not exceeding the overlap would otherwise pull
			// the saved mark backwards.
			logger.Warnf("%s: max_window_hours %.2f does not exceed the overlap, window cannot make progress", op, p.cfg.MaxWindowHours)
			end = mark
		} else {
			logger.Warnf("%s: pull window capped at %.1fh, remainder is picked up by subsequent runs", op, p.cfg.MaxWindowHours)
		}
	}
	logger.Infof("%s: incremental window [%s, %s) (watermark %s, overlap %ds)",
		op, start.Format(model.WindowTimeLayout), end.Format(model.WindowTimeLayout),
		mark.Format(model.WindowTimeLayout), p.cfg.OverlapSeconds)
	return model.Window{Start: start, End: end}
}
