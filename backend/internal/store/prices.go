package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// LookupPrice implements compute.PriceLookup: "most recent effective_date
// <= target" (spec P5), using the (model_id, effective_date DESC) index.
func (s *Store) LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool) {
	row := s.db.QueryRow(`
		SELECT model_id, effective_date, input_per_m, output_per_m,
		       cache_read_per_m, cache_write_5m_per_m, cache_write_1h_per_m
		FROM model_prices
		WHERE model_id = ? AND effective_date <= ?
		ORDER BY effective_date DESC LIMIT 1`,
		modelID, at.UTC().Format("2006-01-02"))

	var p model.ModelPrice
	var effDate string
	if err := row.Scan(&p.ModelID, &effDate, &p.InputPerM, &p.OutputPerM,
		&p.CacheReadPerM, &p.CacheWrite5mPerM, &p.CacheWrite1hPerM); err != nil {
		return model.ModelPrice{}, false
	}
	t, err := time.Parse("2006-01-02", effDate)
	if err != nil {
		return model.ModelPrice{}, false
	}
	p.EffectiveDate = t
	return p, true
}

// UpsertModelPrice inserts a new price row only when the tuple differs
// from the latest stored row for that model id (spec §4.H).
func (s *Store) UpsertModelPrice(ctx context.Context, p model.ModelPrice) (inserted bool, err error) {
	if latest, ok := s.LookupPrice(p.ModelID, p.EffectiveDate); ok && latest == p {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_prices
			(model_id, effective_date, input_per_m, output_per_m,
			 cache_read_per_m, cache_write_5m_per_m, cache_write_1h_per_m)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id, effective_date) DO UPDATE SET
			input_per_m = excluded.input_per_m,
			output_per_m = excluded.output_per_m,
			cache_read_per_m = excluded.cache_read_per_m,
			cache_write_5m_per_m = excluded.cache_write_5m_per_m,
			cache_write_1h_per_m = excluded.cache_write_1h_per_m`,
		p.ModelID, p.EffectiveDate.UTC().Format("2006-01-02"), p.InputPerM, p.OutputPerM,
		p.CacheReadPerM, p.CacheWrite5mPerM, p.CacheWrite1hPerM)
	if err != nil {
		return false, fmt.Errorf("store: upsert model price %s: %w", p.ModelID, err)
	}
	return true, nil
}
