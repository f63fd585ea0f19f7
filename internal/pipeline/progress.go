package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives progress while a set of files is analyzed.
// Calls may arrive from the collecting goroutine only; implementations need
// not be safe for concurrent use unless shared between runs.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnError(path string, err error)
	OnComplete()
}

// NoOpProgressCallback discards progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)           {}
func (NoOpProgressCallback) OnProgress(int, int)   {}
func (NoOpProgressCallback) OnError(string, error) {}
func (NoOpProgressCallback) OnComplete()           {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	mu       sync.Mutex
	w        io.Writer
	prefix   string
	width    int
	interval time.Duration
	start    time.Time
	last     time.Time
	failed   int
}

// NewConsoleProgressCallback creates a console progress bar writing to w
// (stderr when nil).
func NewConsoleProgressCallback(w io.Writer, prefix string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{w: w, prefix: prefix, width: 40, interval: 100 * time.Millisecond}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.last = time.Time{}
	c.failed = 0
	_, _ = fmt.Fprintf(c.w, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if current < total && now.Sub(c.last) < c.interval {
		return
	}
	c.last = now
	_, _ = fmt.Fprint(c.w, c.line(current, total, now))
}

func (c *ConsoleProgressCallback) OnError(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	_, _ = fmt.Fprintf(c.w, "\n%s%s: %v\n", c.prefix, path, err)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sdone in %v (%d failed)\n", c.prefix, time.Since(c.start).Round(time.Millisecond), c.failed)
}

func (c *ConsoleProgressCallback) line(current, total int, now time.Time) string {
	if total <= 0 {
		return ""
	}
	filled := c.width * current / total
	var sb strings.Builder
	fmt.Fprintf(&sb, "\r%s[%s%s] %d/%d", c.prefix,
		strings.Repeat("#", filled), strings.Repeat(".", c.width-filled), current, total)
	if elapsed := now.Sub(c.start); elapsed > 0 && current > 0 {
		fmt.Fprintf(&sb, " %.1f img/s", float64(current)/elapsed.Seconds())
	}
	return sb.String()
}

// LogProgressCallback reports progress through slog every interval items.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int
	last     int
	start    time.Time
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how many items pass between log lines.
func (l *LogProgressCallback) WithInterval(n int) *LogProgressCallback {
	if n > 0 {
		l.interval = n
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.start = time.Now()
	l.last = 0
	l.logger.Log(context.Background(), l.level, "Batch started", "total", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	if current-l.last < l.interval && current != total {
		return
	}
	l.last = current
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"current", current, "total", total, "elapsed", time.Since(l.start).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(path string, err error) {
	l.logger.Error("Image analysis failed", "path", path, "error", err)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "Batch completed", "elapsed", time.Since(l.start).Round(time.Millisecond))
}
