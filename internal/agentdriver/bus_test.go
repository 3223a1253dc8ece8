package agentdriver

import (
	"testing"
	"time"
)

func textMessage(text string) Message {
	return Message{Kind: KindUpdate, UpdateKind: UpdateText, Text: text}
}

func drain(ch chan Message) []Message {
	var out []Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestBusSubscribeReplaysWithinCapacity(t *testing.T) {
	b := newBus(10)
	for _, s := range []string{"a", "b", "c"} {
		b.post(textMessage(s))
	}

	ch := make(chan Message, 5)
	b.subscribe(ch)

	got := drain(ch)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, want)
		}
	}
}

func TestBusSubscribeReplayKeepsNewestOnOverflow(t *testing.T) {
	b := newBus(10)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.post(textMessage(s))
	}

	ch := make(chan Message, 2)
	b.subscribe(ch)

	got := drain(ch)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Text != "d" || got[1].Text != "e" {
		t.Errorf("got %q, %q, want the newest two (\"d\", \"e\")", got[0].Text, got[1].Text)
	}
}

func TestBusSubscribeDoesNotBlockOnFullChannel(t *testing.T) {
	b := newBus(10)
	for i := 0; i < 200; i++ {
		b.post(textMessage("m"))
	}

	done := make(chan struct{})
	go func() {
		ch := make(chan Message, 4)
		b.subscribe(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribe blocked replaying into an undersized channel")
	}
}

func TestBusPostDropsOnFullSubscriberWithoutBlocking(t *testing.T) {
	b := newBus(10)
	ch := make(chan Message, 1)
	b.subscribe(ch)

	b.post(textMessage("first"))
	b.post(textMessage("second"))

	got := drain(ch)
	if len(got) != 1 || got[0].Text != "first" {
		t.Fatalf("got %v, want a single buffered message %q", got, "first")
	}
}
