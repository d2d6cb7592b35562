// Package notifier delivers alert messages through a bounded priority queue.
// Critical alerts jump the line, delivery is paced to respect chat rate
// limits, and bursts of same-kind alerts collapse into one mass alert.
package notifier

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Priority positions, lower dequeues first
var priorityOrder = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
}

// Message is one queued alert
type Message struct {
	Priority  int
	Timestamp time.Time
	Text      string
	Kind      string
	Symbol    string
	seq       uint64
}

// messageHeap orders by priority, then FIFO within a priority
type messageHeap []*Message

func (h messageHeap) Len() int { return len(h) }
func (h messageHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(*Message)) }
func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	msg := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return msg
}

// RateLimitError signals a chat-transport 429 with an optional retry hint
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Transport sends one rendered message to the chat backend
type Transport interface {
	Send(ctx context.Context, text string) error
}

// Options tunes queue and grouping behaviour
type Options struct {
	MaxQueue           int
	Delay              time.Duration // pacing between sends
	MassAlertThreshold int
	MassAlertWindow    time.Duration
}

// Notifier owns the queue and the delivery worker
type Notifier struct {
	transport Transport
	opts      Options

	mu     sync.Mutex
	queue  messageHeap
	seq    uint64
	recent []*Message

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a notifier; call Start to begin delivery
func New(transport Transport, opts Options) *Notifier {
	return &Notifier{
		transport: transport,
		opts:      opts,
		done:      make(chan struct{}),
	}
}

// Start launches the delivery worker
func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.worker()
	log.Println("📣 Notifier worker started")
}

// Stop cancels the worker, then drains whatever is still queued with the
// normal pacing.
func (n *Notifier) Stop() {
	close(n.done)
	n.wg.Wait()

	for {
		msg := n.pop()
		if msg == nil {
			break
		}
		n.deliver(msg.Text)
		time.Sleep(n.opts.Delay)
	}
	log.Println("📣 Notifier stopped")
}

// Enqueue adds a message; when the queue is full the new message is dropped.
// Returns false on drop.
func (n *Notifier) Enqueue(text, severity, kind, symbol string) bool {
	pri, ok := priorityOrder[severity]
	if !ok {
		pri = priorityOrder["medium"]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= n.opts.MaxQueue {
		log.Println("⚠️  Notifier queue full, dropping message")
		return false
	}
	n.seq++
	heap.Push(&n.queue, &Message{
		Priority:  pri,
		Timestamp: time.Now(),
		Text:      text,
		Kind:      kind,
		Symbol:    symbol,
		seq:       n.seq,
	})
	return true
}

// QueueLen returns the number of queued messages
func (n *Notifier) QueueLen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

func (n *Notifier) pop() *Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return nil
	}
	return heap.Pop(&n.queue).(*Message)
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.Delay)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			msg := n.pop()
			if msg == nil {
				continue
			}
			n.dispatch(msg)
		}
	}
}

// dispatch sends one dequeued message, or a mass alert when the sliding
// window shows a burst of the same kind.
func (n *Notifier) dispatch(msg *Message) {
	now := time.Now()
	kept := n.recent[:0]
	for _, m := range n.recent {
		if now.Sub(m.Timestamp) < n.opts.MassAlertWindow {
			kept = append(kept, m)
		}
	}
	n.recent = append(kept, msg)

	if msg.Kind != "" {
		var sameKind []*Message
		for _, m := range n.recent {
			if m.Kind == msg.Kind {
				sameKind = append(sameKind, m)
			}
		}
		if len(sameKind) > n.opts.MassAlertThreshold {
			n.deliver(groupMassAlert(sameKind))
			kept := n.recent[:0]
			for _, m := range n.recent {
				if m.Kind != msg.Kind {
					kept = append(kept, m)
				}
			}
			n.recent = kept
			return
		}
	}

	n.deliver(msg.Text)
}

// groupMassAlert renders one aggregated message for a same-kind burst
func groupMassAlert(messages []*Message) string {
	var symbols []string
	for _, m := range messages {
		if m.Symbol != "" {
			symbols = append(symbols, m.Symbol)
		}
	}
	listed := symbols
	suffix := ""
	if len(symbols) > 6 {
		listed = symbols[:6]
		suffix = "..."
	}
	kind := "anomaly"
	if len(messages) > 0 && messages[0].Kind != "" {
		kind = messages[0].Kind
	}
	return fmt.Sprintf("🔴 MASS ALERT: %d pairs with %s\n%s%s\n⚠️ Market-wide event",
		len(messages), kind, strings.Join(listed, ", "), suffix)
}

// deliver sends with a single retry on rate limiting
func (n *Notifier) deliver(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := n.transport.Send(ctx, text)
	if err == nil {
		return
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = 5 * time.Second
		}
		log.Printf("⚠️  Chat rate limited, waiting %s", wait)
		time.Sleep(wait)
		if err := n.transport.Send(ctx, text); err != nil {
			log.Printf("❌ Retry send failed: %v", err)
		}
		return
	}
	log.Printf("❌ Chat send error: %v", err)
}
