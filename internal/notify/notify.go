// Package notify defines the UI-notification contract the Scheduler
// calls on every terminal outcome (blocked, reviewed, merged,
// merge_failed, rebase_conflict, max_iterations). The board UI itself is
// out of scope; this package only defines the seam and ships a
// file-backed implementation so the contract is exercised end to end.
package notify

import (
	"context"
	"time"

	"github.com/kagan-dev/kagan/internal/render"
)

// Event is one terminal-outcome notification.
type Event struct {
	TaskID  string
	Title   string
	Kind    string // "blocked", "reviewed", "merged", "merge_failed", "rebase_conflict", "max_iterations"
	Summary string // markdown
	At      time.Time
}

// Notifier is the contract the Scheduler calls into. Implementations
// must not block the caller for long; the Scheduler calls Notify
// synchronously on the task's iteration-loop goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// HTML renders ev.Summary to an HTML fragment, for implementations that
// want to surface formatted text rather than raw markdown.
func HTML(ev Event) (string, error) {
	return render.ToHTML(ev.Summary)
}
