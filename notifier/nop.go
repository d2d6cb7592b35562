package notifier

import (
	"context"
	"log"
)

// NopTransport logs instead of sending; used when no chat credentials are
// configured so the rest of the pipeline behaves identically.
type NopTransport struct{}

// Send logs the message and succeeds
func (NopTransport) Send(_ context.Context, text string) error {
	log.Printf("📣 ALERT (not sent):\n%s", text)
	return nil
}
