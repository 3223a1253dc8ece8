package agentdriver

import "sync"

// DefaultBusBufferSize is the replay-buffer size used when a driver is
// constructed without an explicit override (Configuration.
// MessageBusBufferSize).
const DefaultBusBufferSize = 500

// bus is the per-agent message bus: a bounded replay buffer plus a set of
// subscriber channels. Subscribing is atomic with respect to posting —
// the bus holds its lock across "copy the buffer to the new subscriber,
// then add it to the fan-out set" so a message can never be posted
// between those two steps and be missed or double-delivered.
type bus struct {
	mu          sync.Mutex
	bufferLimit int
	buffer      []Message
	subscribers map[chan Message]struct{}
}

func newBus(bufferLimit int) *bus {
	if bufferLimit <= 0 {
		bufferLimit = DefaultBusBufferSize
	}
	return &bus{
		bufferLimit: bufferLimit,
		subscribers: make(map[chan Message]struct{}),
	}
}

// subscribe registers ch and replays buffered messages into it before
// returning, so the caller observes them in order with no gap relative
// to messages posted after subscribe returns. A ch smaller than the
// buffer only gets the newest cap(ch)-worth of the backlog: replaying
// oldest-first into a full channel would silently keep the stale half
// and drop the messages a reconnecting caller actually wants. The sends
// themselves stay non-blocking like post, since subscribe runs under
// b.mu and a blocking send here would wedge every subsequent post
// against the same lock.
func (b *bus) subscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	replay := b.buffer
	if cap(ch) > 0 && len(replay) > cap(ch) {
		replay = replay[len(replay)-cap(ch):]
	}
	for _, m := range replay {
		select {
		case ch <- m:
		default:
		}
	}
	b.subscribers[ch] = struct{}{}
}

func (b *bus) unsubscribe(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, ch)
}

// post buffers m (if replayable) and fans it out to every current
// subscriber. A full subscriber channel drops the message for that
// subscriber rather than blocking the agent's read loop — a slow
// consumer never stalls the subprocess.
func (b *bus) post(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.Kind.replayable() {
		b.buffer = append(b.buffer, m)
		if len(b.buffer) > b.bufferLimit {
			b.buffer = b.buffer[len(b.buffer)-b.bufferLimit:]
		}
	}

	for ch := range b.subscribers {
		select {
		case ch <- m:
		default:
		}
	}
}
