// Package agentdrivertest provides an in-process fake of
// agentdriver.Driver for tests in other packages (review, scheduler)
// that need to drive the iteration/review loop without spawning a real
// coding-agent subprocess.
package agentdrivertest

import (
	"context"
	"sync"
	"time"

	"github.com/kagan-dev/kagan/internal/agentdriver"
)

// FakeDriver is a scripted Driver: each call to SendPrompt returns the
// next entry of Responses (the last entry repeats once exhausted) and
// makes it available via ResponseText.
type FakeDriver struct {
	StartErr     error
	WaitReadyErr error
	SendErr      error
	Responses    []string

	mu           sync.Mutex
	started      bool
	stopped      bool
	calls        int
	responseText string
	Prompts      []string
}

var _ agentdriver.Driver = (*FakeDriver)(nil)

func (f *FakeDriver) Start(ctx context.Context, workingDir, modelOverride string, readOnly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.StartErr
}

func (f *FakeDriver) WaitReady(ctx context.Context, timeout time.Duration) error {
	return f.WaitReadyErr
}

func (f *FakeDriver) SendPrompt(ctx context.Context, text string) (agentdriver.StopReason, error) {
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, text)

	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	resp := ""
	if idx >= 0 {
		resp = f.Responses[idx]
	}
	f.responseText = resp
	f.calls++
	return agentdriver.StopEndTurn, nil
}

func (f *FakeDriver) Cancel(ctx context.Context) error { return nil }

func (f *FakeDriver) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *FakeDriver) ResponseText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responseText
}

func (f *FakeDriver) Subscribe() <-chan agentdriver.Message {
	return make(chan agentdriver.Message)
}

func (f *FakeDriver) Unsubscribe(ch <-chan agentdriver.Message) {}

// Stopped reports whether Stop has been called.
func (f *FakeDriver) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// CallCount reports how many times SendPrompt has been called.
func (f *FakeDriver) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
