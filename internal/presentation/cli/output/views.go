package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// EntityView is the JSON shape of a cached entity.
type EntityView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind,omitempty"`
	Status    string          `json:"status"`
	Title     string          `json:"title,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
	Synced    bool            `json:"synced"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEntityViews converts entities for display.
func NewEntityViews(list []entity.Entity) []EntityView {
	out := make([]EntityView, 0, len(list))
	for i := range list {
		e := &list[i]
		v := EntityView{
			ID:        e.ID,
			Kind:      e.Kind,
			Status:    e.Status,
			Title:     e.Title,
			UpdatedAt: e.UpdatedAt,
			SyncedAt:  e.SyncedAt,
			Synced:    e.IsSynced(),
		}
		if json.Valid(e.Data) {
			v.Data = e.Data
		}
		out = append(out, v)
	}
	return out
}

// Entities renders a list of entities.
func (f *Formatter) Entities(list []entity.Entity) error {
	views := NewEntityViews(list)
	if f.IsJSON() {
		return f.JSON(views)
	}
	if len(views) == 0 {
		return f.Println("%s", f.Dim("(no entities)"))
	}

	t := Table{Headers: []string{"ID", "STATUS", "TITLE", "UPDATED", "SYNC"}}
	for _, v := range views {
		sync := f.Colorize("pending", ColorYellow)
		if v.Synced {
			sync = f.Colorize("synced", ColorGreen)
		}
		t.Rows = append(t.Rows, []string{v.ID, v.Status, v.Title, Ago(v.UpdatedAt), sync})
	}
	return f.Table(t)
}

// MutationView is the JSON shape of a queued mutation.
type MutationView struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	Endpoint  string    `json:"endpoint"`
	EntityID  string    `json:"entity_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Retries   int       `json:"retries"`
	Poisoned  bool      `json:"poisoned"`
	LastError string    `json:"last_error,omitempty"`
}

// Queue renders queued mutations in replay order.
func (f *Formatter) Queue(list []*mutation.Mutation) error {
	views := make([]MutationView, 0, len(list))
	for _, m := range list {
		views = append(views, MutationView{
			ID:        m.ID,
			Method:    m.Method,
			Endpoint:  m.Endpoint,
			EntityID:  m.EntityID,
			CreatedAt: m.CreatedAt,
			Retries:   m.Retries,
			Poisoned:  m.Poisoned,
			LastError: m.LastError,
		})
	}
	if f.IsJSON() {
		return f.JSON(views)
	}
	if len(views) == 0 {
		return f.Println("%s", f.Dim("(queue empty)"))
	}

	t := Table{Headers: []string{"ID", "METHOD", "ENDPOINT", "AGE", "RETRIES", "STATE", "LAST ERROR"}}
	for _, v := range views {
		state := "queued"
		if v.Poisoned {
			state = f.Colorize("poisoned", ColorRed)
		}
		t.Rows = append(t.Rows, []string{
			v.ID, v.Method, v.Endpoint, Ago(v.CreatedAt), strconv.Itoa(v.Retries), state, Truncate(v.LastError, 48),
		})
	}
	return f.Table(t)
}

// SyncResult renders the counters of one replay pass.
func (f *Formatter) SyncResult(r mutation.SyncResult) error {
	if f.IsJSON() {
		return f.JSON(r)
	}
	line := fmt.Sprintf("synced %d, failed %d, deferred %d", r.Synced, r.Failed, r.Deferred)
	if r.Poisoned > 0 {
		line += fmt.Sprintf(", poisoned %d", r.Poisoned)
	}
	if r.Failed > 0 {
		return f.Warning("%s", line)
	}
	return f.Success("%s", line)
}

// DrainView is the JSON shape of a recorded pass.
type DrainView struct {
	ID         string              `json:"id"`
	Trigger    string              `json:"trigger"`
	StartedAt  time.Time           `json:"started_at"`
	DurationMS int64               `json:"duration_ms"`
	Result     mutation.SyncResult `json:"result"`
	Error      string              `json:"error,omitempty"`
}

// NewDrainViews converts recorded passes for display.
func NewDrainViews(runs []mutation.DrainRun) []DrainView {
	out := make([]DrainView, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		out = append(out, DrainView{
			ID:         r.ID,
			Trigger:    string(r.Trigger),
			StartedAt:  r.StartedAt,
			DurationMS: r.Duration().Milliseconds(),
			Result:     r.Result,
			Error:      r.Error,
		})
	}
	return out
}

// DrainTable renders recent passes, newest first.
func (f *Formatter) DrainTable(runs []DrainView) error {
	if len(runs) == 0 {
		return f.Println("  %s", f.Dim("(no drains yet)"))
	}
	t := Table{Headers: []string{"WHEN", "TRIGGER", "SYNCED", "FAILED", "DEFERRED", "POISONED", "ERROR"}}
	for _, r := range runs {
		t.Rows = append(t.Rows, []string{
			Ago(r.StartedAt), r.Trigger,
			strconv.Itoa(r.Result.Synced), strconv.Itoa(r.Result.Failed),
			strconv.Itoa(r.Result.Deferred), strconv.Itoa(r.Result.Poisoned),
			Truncate(r.Error, 40),
		})
	}
	return f.Table(t)
}

// Ago formats how long ago t was, relative to now.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
