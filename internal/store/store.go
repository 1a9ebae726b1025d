// Package store persists scrape-run records. The Store interface decouples
// the pipeline from the concrete database so tests and storeless runs use
// substitutes.
package store

import (
	"context"
	"time"
)

// ScrapeLog is one row in the scrape_log table.
type ScrapeLog struct {
	ID             string
	Source         string
	ScrapeType     string
	Status         string
	StartedAt      time.Time
	ItemsProcessed int
}

// Store records scrape runs.
type Store interface {
	// RecordScrape inserts a scrape_log row and returns its generated id.
	RecordScrape(ctx context.Context, entry ScrapeLog) (string, error)
	// DeleteScrape removes a row by id. Used to roll back self-test writes.
	DeleteScrape(ctx context.Context, id string) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying pool.
	Close()
}

// NoOp is a Store that records nothing. It backs runs configured without a
// database.
type NoOp struct{}

// RecordScrape returns a fixed id and no error.
func (NoOp) RecordScrape(context.Context, ScrapeLog) (string, error) {
	return "noop-scrape-id", nil
}

// DeleteScrape does nothing.
func (NoOp) DeleteScrape(context.Context, string) error { return nil }

// Ping always succeeds.
func (NoOp) Ping(context.Context) error { return nil }

// Close does nothing.
func (NoOp) Close() {}

// SelfTest proves a store is writable by inserting a throwaway row and deleting
// it again, leaving no residue.
func SelfTest(ctx context.Context, s Store, source string) error {
	id, err := s.RecordScrape(ctx, ScrapeLog{
		Source:     source,
		ScrapeType: "connectivity_check",
		Status:     "check",
		StartedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.DeleteScrape(ctx, id)
}
