package workers

import (
	"chat-sync/domain"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

type Reportable interface {
	Report() domain.SessionReport
}

// ReporterWorker logs a session summary every interval, and once more on exit.
// Degraded handles are logged at warn level.
type ReporterWorker struct {
	log      *slog.Logger
	session  Reportable
	interval time.Duration
	self     *process.Process
}

func NewReporterWorker(log *slog.Logger, session Reportable, interval time.Duration) *ReporterWorker {
	return &ReporterWorker{log: log.With("component", "reporter"), session: session, interval: interval}
}

func (w *ReporterWorker) Run(ctx context.Context) error {
	startTime := time.Now()
	if p, err := process.NewProcess(int32(os.Getpid())); err != nil {
		w.log.Warn("Process stats unavailable", "error", err)
	} else {
		w.self = p
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.printStats(startTime)
			return ctx.Err()
		case <-ticker.C:
			w.printStats(startTime)
		}
	}
}

func (w *ReporterWorker) printStats(startTime time.Time) {
	report := w.session.Report()
	level := slog.LevelInfo
	if report.Directory.Degraded || report.Feed.Degraded {
		level = slog.LevelWarn
	}
	rss, cpu := w.selfStats()
	w.log.Log(context.Background(), level, "Session stats",
		"uptime", time.Since(startTime).Round(time.Second).String(),
		"rss_bytes", rss,
		"cpu_percent", cpu,
		"user", report.UserID,
		"channel", report.ChannelID,
		"channels", report.Channels,
		"messages", report.Messages,
		"has_more", report.HasMore,
		"thread", report.ActiveThread,
		"directory_state", report.Directory.State,
		"feed_state", report.Feed.State,
		"feed_retries", report.Feed.RetryCount,
	)
}

func (w *ReporterWorker) selfStats() (uint64, float64) {
	if w.self == nil {
		return 0, 0
	}
	memInfo, err := w.self.MemoryInfo()
	if err != nil {
		return 0, 0
	}
	cpuPercent, err := w.self.CPUPercent()
	if err != nil {
		return memInfo.RSS, 0
	}
	return memInfo.RSS, cpuPercent
}
