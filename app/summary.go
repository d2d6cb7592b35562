package app

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"oi-radar/anomaly"
	"oi-radar/config"
	"oi-radar/database"
	"oi-radar/notifier"
)

// DailySummary sends one digest per day: funding and OI leaderboards over
// the last 24 hours plus anomaly counts by severity.
type DailySummary struct {
	repo     *database.MarketRepository
	notifier *notifier.Notifier
	cfg      *config.Config
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewDailySummary creates the daily summary task
func NewDailySummary(repo *database.MarketRepository, ntf *notifier.Notifier, cfg *config.Config) *DailySummary {
	return &DailySummary{repo: repo, notifier: ntf, cfg: cfg, done: make(chan struct{})}
}

// Start launches the daily loop
func (s *DailySummary) Start() {
	s.wg.Add(1)
	go s.loop()
	log.Println("📰 Daily summary started")
}

// Stop terminates the loop
func (s *DailySummary) Stop() {
	close(s.done)
	s.wg.Wait()
	log.Println("📰 Daily summary stopped")
}

func (s *DailySummary) loop() {
	defer s.wg.Done()
	for {
		wait := untilNextUTCHour(time.Now().UTC(), s.cfg.Stats.SummaryHourUTC)
		select {
		case <-s.done:
			return
		case <-time.After(wait):
		}

		text, err := s.Build()
		if err != nil {
			log.Printf("❌ Daily summary error: %v", err)
			continue
		}
		s.notifier.Enqueue(text, anomaly.SeverityMedium, "", "")
	}
}

// Build renders the summary text from the last 24 hours of data
func (s *DailySummary) Build() (string, error) {
	since := time.Now().Unix() - 86400
	lines := []string{"<b>Daily Summary</b>"}

	topFunding, err := s.repo.TopFundingSince(since, 10)
	if err != nil {
		return "", err
	}
	if len(topFunding) > 0 {
		lines = append(lines, "\n<b>TOP Funding:</b>")
		for _, r := range topFunding {
			lines = append(lines, fmt.Sprintf("  %s: %.6f", r.Symbol, r.Value))
		}
	}

	topOI, err := s.repo.TopOIChangeSince(since, 10)
	if err != nil {
		return "", err
	}
	if len(topOI) > 0 {
		lines = append(lines, "\n<b>TOP OI change:</b>")
		for _, r := range topOI {
			lines = append(lines, fmt.Sprintf("  %s: %.1f%%", r.Symbol, r.Value))
		}
	}

	topLS, err := s.repo.TopLSSince(since, 10)
	if err != nil {
		return "", err
	}
	if len(topLS) > 0 {
		lines = append(lines, "\n<b>TOP L/S ratio:</b>")
		for _, r := range topLS {
			lines = append(lines, fmt.Sprintf("  %s: %.2f", r.Symbol, r.Value))
		}
	}

	counts, err := s.repo.AnomalyCounts(since)
	if err != nil {
		return "", err
	}
	if len(counts) > 0 {
		lines = append(lines, "\n<b>Anomalies 24h:</b>")
		for _, c := range counts {
			lines = append(lines, fmt.Sprintf("  %s: %d", c.Type, c.Count))
		}
	}

	return strings.Join(lines, "\n"), nil
}
