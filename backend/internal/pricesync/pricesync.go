// Package pricesync implements the Price Sync engine (spec §4.H): fetch a
// JSON model-price catalog from a configured HTTPS endpoint at startup
// and every 24h, and upsert changed rows into the Store.
//
// Grounded on backend/internal/server/usage.go's usageFetcher (TTL cache
// + exponential backoff + periodic refetch), generalized from
// fetch-on-demand to fetch-at-startup-and-every-24h; the cache/backoff
// struct shape is kept as-is.
package pricesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

const (
	fetchPeriod = 24 * time.Hour
	backoffMin  = 30 * time.Second
	backoffMax  = 1 * time.Hour

	dateLayout = "2006-01-02"
)

// Store is the subset of store.Store the Price Sync writes to.
type Store interface {
	UpsertModelPrice(ctx context.Context, p model.ModelPrice) (inserted bool, err error)
}

// catalogEntry is one row of the remote JSON price catalog.
type catalogEntry struct {
	ModelID          string  `json:"model_id"`
	EffectiveDate    string  `json:"effective_date"`
	InputPerM        float64 `json:"input_per_million"`
	OutputPerM       float64 `json:"output_per_million"`
	CacheReadPerM    float64 `json:"cache_read_per_million"`
	CacheWrite5mPerM float64 `json:"cache_write_5m_per_million"`
	CacheWrite1hPerM float64 `json:"cache_write_1h_per_million"`
}

// Syncer fetches and upserts model prices, with exponential backoff on
// fetch error.
type Syncer struct {
	client       *http.Client
	store        Store
	endpoint     string
	vendorPrefix string

	mu      sync.Mutex
	backoff time.Duration
	errorAt time.Time
}

// New creates a Syncer. endpoint is the HTTPS catalog URL; vendorPrefix
// filters catalog entries to those whose model id begins with it (spec
// §4.H "known vendor prefix").
func New(store Store, endpoint, vendorPrefix string) *Syncer {
	return &Syncer{
		client:       &http.Client{Timeout: 15 * time.Second},
		store:        store,
		endpoint:     endpoint,
		vendorPrefix: vendorPrefix,
	}
}

// Run fetches immediately, then every 24h, until ctx is cancelled (spec
// §4.H "at startup and every 24h"; §5 "cancelled and awaited" on
// shutdown).
func (s *Syncer) Run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(fetchPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce respects the current backoff window, then fetches and upserts.
func (s *Syncer) syncOnce(ctx context.Context) {
	s.mu.Lock()
	if s.backoff > 0 && time.Since(s.errorAt) < s.backoff {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	entries, err := s.fetch(ctx)
	if err != nil {
		slog.Warn("pricesync: fetch failed, will retry next cycle", "err", err)
		s.recordError()
		return
	}

	s.mu.Lock()
	s.backoff = 0
	s.mu.Unlock()

	inserted := 0
	for _, e := range entries {
		if s.vendorPrefix != "" && !strings.HasPrefix(e.ModelID, s.vendorPrefix) {
			continue
		}
		price, err := toModelPrice(e)
		if err != nil {
			slog.Warn("pricesync: skipping malformed catalog entry", "model_id", e.ModelID, "err", err)
			continue
		}
		ok, err := s.store.UpsertModelPrice(ctx, price)
		if err != nil {
			slog.Warn("pricesync: upsert failed", "model_id", e.ModelID, "err", err)
			continue
		}
		if ok {
			inserted++
		}
	}
	slog.Info("pricesync: cycle complete", "entries", len(entries), "inserted", inserted)
}

func (s *Syncer) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorAt = time.Now()
	if s.backoff == 0 {
		s.backoff = backoffMin
	} else {
		s.backoff *= 2
		if s.backoff > backoffMax {
			s.backoff = backoffMax
		}
	}
}

func (s *Syncer) fetch(ctx context.Context) ([]catalogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("price catalog endpoint returned %d: %s", resp.StatusCode, body)
	}

	var entries []catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode price catalog: %w", err)
	}
	return entries, nil
}

func toModelPrice(e catalogEntry) (model.ModelPrice, error) {
	d, err := time.Parse(dateLayout, e.EffectiveDate)
	if err != nil {
		return model.ModelPrice{}, fmt.Errorf("parse effective_date %q: %w", e.EffectiveDate, err)
	}
	return model.ModelPrice{
		ModelID:          e.ModelID,
		EffectiveDate:    d,
		InputPerM:        model.MicrosFromFloat(e.InputPerM),
		OutputPerM:       model.MicrosFromFloat(e.OutputPerM),
		CacheReadPerM:    model.MicrosFromFloat(e.CacheReadPerM),
		CacheWrite5mPerM: model.MicrosFromFloat(e.CacheWrite5mPerM),
		CacheWrite1hPerM: model.MicrosFromFloat(e.CacheWrite1hPerM),
	}, nil
}
