package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jbctechsolutions/offsync/internal/domain/connectivity"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// EventPrinter writes a timestamped line for each background event.
// Used by long-running commands to show connectivity and replay activity.
type EventPrinter struct {
	mu      sync.Mutex
	writer  io.Writer
	colored bool
	now     func() time.Time
}

// NewEventPrinter creates a printer.
func NewEventPrinter(w io.Writer, colored bool) *EventPrinter {
	return &EventPrinter{writer: w, colored: colored, now: time.Now}
}

// Transition prints a connectivity change.
func (p *EventPrinter) Transition(t connectivity.Transition) {
	color := ColorGreen
	if t.To == connectivity.Offline {
		color = ColorYellow
	}
	p.line(color, "%s → %s", t.From, t.To)
}

// Drain prints a finished replay pass.
func (p *EventPrinter) Drain(run mutation.DrainRun) {
	r := run.Result
	color := ColorGreen
	if r.Failed > 0 || run.Error != "" {
		color = ColorYellow
	}
	msg := fmt.Sprintf("drain (%s): synced %d, failed %d, deferred %d", run.Trigger, r.Synced, r.Failed, r.Deferred)
	if r.Poisoned > 0 {
		msg += fmt.Sprintf(", poisoned %d", r.Poisoned)
	}
	if run.Error != "" {
		msg += ": " + run.Error
	}
	p.line(color, "%s", msg)
}

// Message prints a free-form line.
func (p *EventPrinter) Message(format string, args ...any) {
	p.line(ColorDim, format, args...)
}

func (p *EventPrinter) line(color Color, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp := p.now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	if p.colored {
		_, _ = fmt.Fprintf(p.writer, "%s%s%s %s%s%s\n", ColorDim, stamp, ColorReset, color, msg, ColorReset)
		return
	}
	_, _ = fmt.Fprintf(p.writer, "%s %s\n", stamp, msg)
}
