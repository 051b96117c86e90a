// Package output renders command results as colored text, tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Format is an output mode.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses a --output value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", s)
	}
}

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes user-facing output. It is safe for concurrent use.
type Formatter struct {
	mu           sync.Mutex
	writer       io.Writer
	format       Format
	colorEnabled bool
}

// Option configures a Formatter.
type Option func(*Formatter)

// NewFormatter creates a text formatter on stdout with color enabled.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		writer:       os.Stdout,
		format:       FormatText,
		colorEnabled: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) {
		f.writer = w
	}
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) {
		f.format = format
	}
}

// WithColor enables or disables ANSI colors.
func WithColor(enabled bool) Option {
	return func(f *Formatter) {
		f.colorEnabled = enabled
	}
}

// Format returns the output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// IsJSON reports whether output is JSON.
func (f *Formatter) IsJSON() bool {
	return f.Format() == FormatJSON
}

// Writer returns the underlying writer.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.writer, format+"\n", args...)
	return err
}

// Colorize wraps text in color when enabled.
func (f *Formatter) Colorize(text string, color Color) string {
	f.mu.Lock()
	enabled := f.colorEnabled
	f.mu.Unlock()
	if !enabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

// Success prints a green check line.
func (f *Formatter) Success(format string, args ...any) error {
	return f.Println("%s", f.Colorize("✓ "+fmt.Sprintf(format, args...), ColorGreen))
}

// Error prints a red cross line.
func (f *Formatter) Error(format string, args ...any) error {
	return f.Println("%s", f.Colorize("✗ "+fmt.Sprintf(format, args...), ColorRed))
}

// Warning prints a yellow warning line.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.Println("%s", f.Colorize("⚠ "+fmt.Sprintf(format, args...), ColorYellow))
}

// Info prints a blue info line.
func (f *Formatter) Info(format string, args ...any) error {
	return f.Println("%s", f.Colorize("ℹ "+fmt.Sprintf(format, args...), ColorBlue))
}

// Bold styles text.
func (f *Formatter) Bold(text string) string {
	return f.Colorize(text, ColorBold)
}

// Dim styles text.
func (f *Formatter) Dim(text string) string {
	return f.Colorize(text, ColorDim)
}

// Header prints an underlined section title.
func (f *Formatter) Header(title string) error {
	if err := f.Println("%s", f.Bold(title)); err != nil {
		return err
	}
	return f.Println("%s", strings.Repeat("─", len([]rune(title))))
}

// Item prints an indented key/value pair.
func (f *Formatter) Item(key, value string) error {
	return f.Println("  %s %s", f.Dim(key+":"), value)
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table is rows of cells under headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Table writes t with columns padded to the widest cell.
func (f *Formatter) Table(t Table) error {
	if len(t.Headers) == 0 {
		return nil
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len([]rune(cell))+2))
			}
		}
		return strings.TrimRight(b.String(), " ")
	}

	if err := f.Println("%s", f.Bold(line(t.Headers))); err != nil {
		return err
	}
	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w)
	}
	if err := f.Println("%s", line(seps)); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := f.Println("%s", line(row)); err != nil {
			return err
		}
	}
	return nil
}

// Spinner animates a status line while a blocking call runs.
type Spinner struct {
	mu       sync.Mutex
	frames   []string
	index    int
	message  string
	writer   io.Writer
	interval time.Duration
	colored  bool
	running  bool
	done     chan struct{}
	stopped  chan struct{}
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, message string, colored bool) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message:  message,
		writer:   w,
		interval: 80 * time.Millisecond,
		colored:  colored,
	}
}

// Start begins animating.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.animate()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	width := len([]rune(s.message)) + 4
	s.mu.Unlock()

	<-stopped
	_, _ = fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", width))
}

func (s *Spinner) animate() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := s.frames[s.index]
			s.index = (s.index + 1) % len(s.frames)
			message := s.message
			s.mu.Unlock()

			if s.colored {
				_, _ = fmt.Fprintf(s.writer, "\r%s%s%s %s", ColorCyan, frame, ColorReset, message)
			} else {
				_, _ = fmt.Fprintf(s.writer, "\r%s %s", frame, message)
			}
		}
	}
}
