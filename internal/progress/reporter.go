// Package progress renders scan and embedding session progress for the
// CLI commands.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives session progress as it happens. Implementations are
// not safe for concurrent use; the CLI drives them from one event loop.
type Reporter interface {
	Start(total int)
	Update(current int, message string)
	Finish()
}

// NewReporter picks a renderer for the environment: a live bar on an
// interactive terminal, plain lines under CI where cursor control only
// produces log noise.
func NewReporter(label string) Reporter {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &lineReporter{label: label}
	}
	return &barReporter{label: label}
}

type barReporter struct {
	label string
	bar   *progressbar.ProgressBar
	last  string
}

func (r *barReporter) Start(total int) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(r.label),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *barReporter) Update(current int, message string) {
	if r.bar == nil {
		return
	}
	// Redescribing on every event makes the bar flicker; only react to
	// actual folder/file changes.
	if message != "" && message != r.last {
		r.bar.Describe(fmt.Sprintf("%s (%s)", r.label, message))
		r.last = message
	}
	_ = r.bar.Set(current)
}

func (r *barReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

// lineReporter emits one line per update for CI logs.
type lineReporter struct {
	label string
	total int
	seen  int
}

func (r *lineReporter) Start(total int) {
	r.total = total
	fmt.Fprintf(os.Stderr, "%s: %d files\n", r.label, total)
}

func (r *lineReporter) Update(current int, message string) {
	if current == r.seen && message == "" {
		return
	}
	r.seen = current
	fmt.Fprintf(os.Stderr, "%s [%d/%d] %s\n", r.label, current, r.total, message)
}

func (r *lineReporter) Finish() {
	fmt.Fprintf(os.Stderr, "%s: done (%d/%d)\n", r.label, r.seen, r.total)
}
