package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingTransport captures sent texts and can fail with a rate limit once
type recordingTransport struct {
	mu        sync.Mutex
	sent      []string
	limitOnce bool
}

func (t *recordingTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limitOnce {
		t.limitOnce = false
		return &RateLimitError{RetryAfter: 10 * time.Millisecond}
	}
	t.sent = append(t.sent, text)
	return nil
}

func (t *recordingTransport) texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func testOpts() Options {
	return Options{
		MaxQueue:           100,
		Delay:              time.Millisecond,
		MassAlertThreshold: 5,
		MassAlertWindow:    time.Minute,
	}
}

func TestPriorityOrdering(t *testing.T) {
	n := New(&recordingTransport{}, testOpts())

	n.Enqueue("low alert", "low", "funding_spike", "AUSDT")
	n.Enqueue("medium alert", "medium", "funding_spike", "BUSDT")
	n.Enqueue("critical alert", "critical", "oi_flush", "CUSDT")
	n.Enqueue("high alert", "high", "oi_surge", "DUSDT")

	want := []string{"critical alert", "high alert", "medium alert", "low alert"}
	for _, expected := range want {
		msg := n.pop()
		if msg == nil {
			t.Fatal("queue drained early")
		}
		if msg.Text != expected {
			t.Errorf("expected %q, got %q", expected, msg.Text)
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	n := New(&recordingTransport{}, testOpts())

	n.Enqueue("first", "high", "oi_surge", "AUSDT")
	n.Enqueue("second", "high", "oi_surge", "BUSDT")
	n.Enqueue("third", "high", "oi_surge", "CUSDT")

	for _, expected := range []string{"first", "second", "third"} {
		if msg := n.pop(); msg == nil || msg.Text != expected {
			t.Fatalf("expected %q in FIFO order", expected)
		}
	}
}

func TestUnknownSeverityDefaultsToMedium(t *testing.T) {
	n := New(&recordingTransport{}, testOpts())

	n.Enqueue("mystery", "shrug", "oi_surge", "AUSDT")
	n.Enqueue("low", "low", "oi_surge", "BUSDT")

	if msg := n.pop(); msg == nil || msg.Text != "mystery" {
		t.Fatal("unknown severity should rank as medium, above low")
	}
}

func TestQueueFullDropsNewest(t *testing.T) {
	opts := testOpts()
	opts.MaxQueue = 2
	n := New(&recordingTransport{}, opts)

	if !n.Enqueue("one", "high", "k", "A") || !n.Enqueue("two", "high", "k", "B") {
		t.Fatal("first two messages should enqueue")
	}
	if n.Enqueue("three", "critical", "k", "C") {
		t.Error("expected drop when the queue is full")
	}
	if n.QueueLen() != 2 {
		t.Errorf("expected queue length 2, got %d", n.QueueLen())
	}
}

func TestMassAlertGrouping(t *testing.T) {
	transport := &recordingTransport{}
	n := New(transport, testOpts())

	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT", "FUSDT"}
	for _, sym := range symbols {
		n.dispatch(&Message{
			Timestamp: time.Now(),
			Text:      "flush on " + sym,
			Kind:      "oi_flush",
			Symbol:    sym,
		})
	}

	sent := transport.texts()
	// Five individual sends, then the sixth trips the threshold
	if len(sent) != 6 {
		t.Fatalf("expected 6 sends, got %d", len(sent))
	}
	last := sent[5]
	if !strings.Contains(last, "MASS ALERT: 6 pairs with oi_flush") {
		t.Errorf("expected aggregated mass alert, got:\n%s", last)
	}
	for _, sym := range symbols {
		if !strings.Contains(last, sym) {
			t.Errorf("mass alert should list %s", sym)
		}
	}

	// The burst window was purged: the next same-kind message goes out alone
	n.dispatch(&Message{
		Timestamp: time.Now(), Text: "flush on GUSDT", Kind: "oi_flush", Symbol: "GUSDT",
	})
	sent = transport.texts()
	if sent[len(sent)-1] != "flush on GUSDT" {
		t.Errorf("expected individual delivery after purge, got %q", sent[len(sent)-1])
	}
}

func TestMassAlertTruncatesSymbolList(t *testing.T) {
	messages := make([]*Message, 8)
	for i := range messages {
		messages[i] = &Message{Kind: "oi_flush", Symbol: string(rune('A'+i)) + "USDT"}
	}
	text := groupMassAlert(messages)
	if !strings.Contains(text, "8 pairs") {
		t.Errorf("expected full count, got:\n%s", text)
	}
	if !strings.Contains(text, "...") {
		t.Error("expected truncation marker after 6 symbols")
	}
	if strings.Contains(text, "GUSDT") {
		t.Error("seventh symbol should be truncated")
	}
}

func TestDeliverRetriesOnRateLimit(t *testing.T) {
	transport := &recordingTransport{limitOnce: true}
	n := New(transport, testOpts())

	n.deliver("throttled alert")

	sent := transport.texts()
	if len(sent) != 1 || sent[0] != "throttled alert" {
		t.Fatalf("expected one delivery after retry, got %v", sent)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	transport := &recordingTransport{}
	n := New(transport, testOpts())
	n.Start()

	n.Enqueue("queued one", "high", "k", "A")
	n.Enqueue("queued two", "high", "k", "B")
	n.Stop()

	sent := transport.texts()
	if len(sent) != 2 {
		t.Fatalf("expected drained deliveries, got %v", sent)
	}
}
