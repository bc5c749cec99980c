package archiver

import (
	"time"

	"github.com/blockedby/channel-archiver/internal/logger"
)

// ProgressReporter tracks the state of one media transfer and logs it at a
// bounded rate. It decouples transfer logic from display formatting: the
// transfer only calls Update with byte counts.
type ProgressReporter struct {
	log       *logger.Logger
	label     string
	interval  time.Duration
	startedAt time.Time
	lastLog   time.Time

	downloaded int64
	total      int64
}

// NewProgressReporter creates a reporter for one transfer. interval bounds
// how often Update emits a log line.
func NewProgressReporter(label string, total int64, interval time.Duration) *ProgressReporter {
	now := time.Now()
	return &ProgressReporter{
		log:       logger.Get(),
		label:     label,
		interval:  interval,
		startedAt: now,
		lastLog:   now,
		total:     total,
	}
}

// Update records the running byte count, logging at most once per
// interval.
func (p *ProgressReporter) Update(downloaded, total int64) {
	p.downloaded = downloaded
	if total > 0 {
		p.total = total
	}

	now := time.Now()
	if now.Sub(p.lastLog) < p.interval {
		return
	}
	p.lastLog = now

	elapsed := now.Sub(p.startedAt).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(downloaded) / elapsed
	}
	ev := p.log.Info().
		Str("transfer", p.label).
		Int64("downloaded_bytes", downloaded).
		Float64("kb_per_sec", speed/1024)
	if p.total > 0 {
		ev = ev.Float64("percent", float64(downloaded)/float64(p.total)*100)
	}
	ev.Msg("download progress")
}

// Downloaded returns the last recorded byte count.
func (p *ProgressReporter) Downloaded() int64 {
	return p.downloaded
}

// Done logs the final transfer summary.
func (p *ProgressReporter) Done() {
	elapsed := time.Since(p.startedAt).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(p.downloaded) / elapsed
	}
	p.log.Info().
		Str("transfer", p.label).
		Int64("bytes", p.downloaded).
		Float64("seconds", elapsed).
		Float64("mb_per_sec", speed/(1024*1024)).
		Msg("download completed")
}
