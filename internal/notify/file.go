package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileNotifier appends one line (plus a rendered-HTML block) per event
// to a log file. A stand-in for the out-of-scope board UI: enough to
// exercise the Notifier contract and the goldmark rendering it carries.
type FileNotifier struct {
	path string
	mu   sync.Mutex
}

// NewFileNotifier returns a Notifier that appends to path, creating it
// if necessary.
func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path}
}

func (f *FileNotifier) Notify(ctx context.Context, ev Event) error {
	html, err := HTML(ev)
	if err != nil {
		html = ""
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("notify: open %s: %w", f.path, err)
	}
	defer file.Close()

	_, err = fmt.Fprintf(file, "[%s] %s task=%s title=%q\n%s\n\n",
		ev.At.Format("2006-01-02T15:04:05Z07:00"), ev.Kind, ev.TaskID, ev.Title, html)
	return err
}
