// Package agentdriver wraps a coding-agent subprocess that speaks a
// line-delimited JSON-RPC dialect over stdio (initialize, session/new,
// session/prompt, session/cancel, and inbound session/update
// notifications carrying text deltas, tool-call events, and permission
// requests).
//
// The subprocess mechanics — exec.CommandContext, piped stdin/stdout —
// follow the same shape used elsewhere in this codebase's agent-spawning
// code, extended here from a one-shot "pipe a prompt in, read all output"
// call into a persistent process with a request/response router and a
// live subscriber stream. The subprocess's exit code and stderr are not
// captured: an exit while a prompt is in flight surfaces as
// ErrAgentRuntimeError without the exit status.
package agentdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kagan-dev/kagan/internal/kerr"
)

// StopReason mirrors the JSON-RPC dialect's session/prompt outcome.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopMaxTokens StopReason = "max_tokens"
	StopRefusal   StopReason = "refusal"
)

// Driver is the contract the scheduling core consumes. One Driver wraps
// one subprocess for the lifetime of one continuous run of the iteration
// loop; a new iteration-loop run gets a fresh Driver (see
// internal/scheduler).
type Driver interface {
	Start(ctx context.Context, workingDir string, modelOverride string, readOnly bool) error
	WaitReady(ctx context.Context, timeout time.Duration) error
	SendPrompt(ctx context.Context, text string) (StopReason, error)
	Cancel(ctx context.Context) error
	Stop(ctx context.Context) error
	ResponseText() string
	Subscribe() <-chan Message
	Unsubscribe(ch <-chan Message)
}

// AutoApprove controls how RequestPermission messages are resolved.
type AutoApprove bool

const (
	AutoApproveOn  AutoApprove = true
	AutoApproveOff AutoApprove = false
)

// Config controls one StdioDriver's behavior.
type Config struct {
	// Command is the executable + leading args (e.g. []string{"claude",
	// "--experimental-acp"}). Required.
	Command []string

	AutoApprove AutoApprove
	// PermissionTimeout bounds how long a forwarded RequestPermission
	// waits for a subscriber to answer before the driver picks the
	// first reject-class option (or cancels if there is none).
	PermissionTimeout time.Duration

	BufferSize int // 0 uses DefaultBusBufferSize
}

// StdioDriver is the one concrete Driver implementation: a persistent
// subprocess, a line-delimited JSON-RPC reader/writer pair, and a
// message bus fed by the reader loop.
type StdioDriver struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	bus *bus

	mu           sync.Mutex
	ready        bool
	readyCh      chan struct{}
	responseText strings.Builder

	rpc *rpcClient

	readLoopDone chan struct{}
	exitErr      error
}

// New constructs a StdioDriver; Start must be called before any other
// method.
func New(cfg Config) *StdioDriver {
	return &StdioDriver{
		cfg:          cfg,
		bus:          newBus(cfg.BufferSize),
		readyCh:      make(chan struct{}),
		readLoopDone: make(chan struct{}),
	}
}

// Start launches the subprocess and performs the initialize/session-new
// handshake. Failure to find the executable or a handshake error is
// reported as ErrAgentStartupFailure.
func (d *StdioDriver) Start(ctx context.Context, workingDir string, modelOverride string, readOnly bool) error {
	if len(d.cfg.Command) == 0 {
		return fmt.Errorf("agentdriver: empty command: %w", kerr.ErrAgentStartupFailure)
	}

	args := append([]string{}, d.cfg.Command[1:]...)
	cmd := exec.CommandContext(ctx, d.cfg.Command[0], args...)
	cmd.Dir = workingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agentdriver: stdin pipe: %w: %w", err, kerr.ErrAgentStartupFailure)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agentdriver: stdout pipe: %w: %w", err, kerr.ErrAgentStartupFailure)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agentdriver: start %s: %w: %w", d.cfg.Command[0], err, kerr.ErrAgentStartupFailure)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = stdout
	d.rpc = newRPCClient(stdin, stdout)

	go d.readLoop()

	if err := d.rpc.call(ctx, "initialize", map[string]any{}); err != nil {
		return fmt.Errorf("agentdriver: initialize: %w: %w", err, kerr.ErrAgentStartupFailure)
	}
	params := map[string]any{
		"workingDir": workingDir,
		"readOnly":   readOnly,
	}
	if modelOverride != "" {
		params["model"] = modelOverride
	}
	if err := d.rpc.call(ctx, "session/new", params); err != nil {
		return fmt.Errorf("agentdriver: session/new: %w: %w", err, kerr.ErrAgentStartupFailure)
	}

	return nil
}

// WaitReady blocks until the AgentReady notification arrives or timeout
// elapses.
func (d *StdioDriver) WaitReady(ctx context.Context, timeout time.Duration) error {
	select {
	case <-d.readyCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("agentdriver: timed out waiting for ready: %w", kerr.ErrAgentStartupFailure)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendPrompt sends session/prompt and blocks until a stop reason
// arrives. Concurrent calls on one driver are not supported; the
// scheduler never issues them (one send_prompt in flight at a time per
// task loop).
func (d *StdioDriver) SendPrompt(ctx context.Context, text string) (StopReason, error) {
	d.mu.Lock()
	d.responseText.Reset()
	d.mu.Unlock()

	var stopReason StopReason
	done := make(chan struct{})
	var completeErr error

	// Registered without replay: the buffer holds earlier prompts' text
	// and completion, which must not end or leak into this prompt.
	unsub := make(chan Message, 64)
	d.bus.mu.Lock()
	d.bus.subscribers[unsub] = struct{}{}
	d.bus.mu.Unlock()
	defer d.bus.unsubscribe(unsub)

	go func() {
		for m := range unsub {
			switch m.Kind {
			case KindUpdate:
				if m.UpdateKind == UpdateText {
					d.mu.Lock()
					d.responseText.WriteString(m.Text)
					d.mu.Unlock()
				}
			case KindComplete:
				stopReason = StopReason(m.StopReason)
				close(done)
				return
			case KindFail:
				completeErr = fmt.Errorf("agentdriver: %s: %w", m.FailMessage, kerr.ErrAgentRuntimeError)
				close(done)
				return
			}
		}
	}()

	if err := d.rpc.call(ctx, "session/prompt", map[string]any{"text": text}); err != nil {
		return "", fmt.Errorf("agentdriver: session/prompt: %w: %w", err, kerr.ErrAgentRuntimeError)
	}

	select {
	case <-done:
		return stopReason, completeErr
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.readLoopDone:
		if d.exitErr != nil {
			return "", fmt.Errorf("agentdriver: process exited: %w: %w", d.exitErr, kerr.ErrAgentRuntimeError)
		}
		return "", fmt.Errorf("agentdriver: process exited: %w", kerr.ErrAgentRuntimeError)
	}
}

// Cancel sends session/cancel without killing the subprocess.
func (d *StdioDriver) Cancel(ctx context.Context) error {
	return d.rpc.call(ctx, "session/cancel", map[string]any{})
}

// Stop terminates the subprocess: closes its stdin first, then a bounded
// wait, then force-kill.
func (d *StdioDriver) Stop(ctx context.Context) error {
	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}
	_ = d.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		_ = d.cmd.Process.Kill()
		<-done
		return nil
	}
}

// ResponseText returns the cumulative text received since the last
// SendPrompt call.
func (d *StdioDriver) ResponseText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responseText.String()
}

// Subscribe attaches a consumer of the live message stream, replaying
// buffered non-ephemeral messages first.
func (d *StdioDriver) Subscribe() <-chan Message {
	ch := make(chan Message, 256)
	d.bus.subscribe(ch)
	return ch
}

func (d *StdioDriver) Unsubscribe(ch <-chan Message) {
	// bus keys on the writable channel; the receive-only view Subscribe
	// returned compares equal to it, so match by channel identity.
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	for c := range d.bus.subscribers {
		if (<-chan Message)(c) == ch {
			delete(d.bus.subscribers, c)
		}
	}
}

// readLoop pumps inbound notifications off the subprocess's stdout,
// translates them into Messages, and posts them to the bus. It owns
// auto-approve resolution for RequestPermission.
func (d *StdioDriver) readLoop() {
	defer close(d.readLoopDone)

	for {
		notif, err := d.rpc.nextNotification()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.exitErr = err
				d.bus.post(Message{Kind: KindFail, FailMessage: err.Error()})
			}
			return
		}

		id := notif.ID
		msg := translateNotification(notif, func(optionID string) {
			_ = d.rpc.respond(id, map[string]any{"optionId": optionID})
		})

		if msg.Kind == KindReady {
			d.mu.Lock()
			if !d.ready {
				d.ready = true
				close(d.readyCh)
			}
			d.mu.Unlock()
		}

		if msg.Kind == KindRequestPermission {
			d.resolvePermission(&msg)
		}

		d.bus.post(msg)
	}
}

func (d *StdioDriver) resolvePermission(msg *Message) {
	if bool(d.cfg.AutoApprove) {
		if msg.Resolve != nil {
			msg.Resolve("allow_once")
		}
		return
	}
	// Forward to subscribers as-is; if nobody answers within
	// PermissionTimeout, pick the first reject-class option, else
	// effectively cancel by resolving empty.
	timeout := d.cfg.PermissionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	original := msg.Resolve
	resolved := make(chan struct{})
	msg.Resolve = func(optionID string) {
		select {
		case <-resolved:
			return
		default:
			close(resolved)
		}
		original(optionID)
	}
	go func() {
		select {
		case <-resolved:
			return
		case <-time.After(timeout):
			for _, opt := range msg.Options {
				if opt.IsRejectClass {
					msg.Resolve(opt.ID)
					return
				}
			}
			_ = d.Cancel(context.Background())
		}
	}()
}
