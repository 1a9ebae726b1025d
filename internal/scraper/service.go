package scraper

import (
	"context"
	"fmt"
)

// Source identifies a scraper backend. The set is closed and resolved at
// startup; there is no runtime registration.
type Source string

// Supported sources.
const (
	SourceWahapedia Source = "wahapedia"
)

// ParseSource validates a configured source name.
func ParseSource(name string) (Source, error) {
	switch Source(name) {
	case SourceWahapedia:
		return SourceWahapedia, nil
	default:
		return "", fmt.Errorf("unknown scraper source %q (supported: %s)", name, SourceWahapedia)
	}
}

// Service is the contract every source backend implements: faction discovery
// plus the five faction-scoped extraction capabilities. Implementations
// receive their fetch layer and URL resolver at construction; they never
// mutate collaborators at call time.
//
// Every method follows the same failure posture: a failed item is logged and
// omitted from the result, and only infrastructure-level errors (not parse
// misses) surface as a non-nil error.
type Service interface {
	// Factions discovers all factions for the configured version.
	Factions(ctx context.Context) ([]Faction, error)
	// ArmyRule extracts the faction-wide rule, or nil if the page lacks one.
	ArmyRule(ctx context.Context, faction Faction) (*ArmyRule, error)
	// Detachments lists the faction's detachments.
	Detachments(ctx context.Context, faction Faction) ([]Detachment, error)
	// Enhancements lists the enhancements for one detachment.
	Enhancements(ctx context.Context, faction Faction, detachment Detachment) ([]Enhancement, error)
	// Units lists the faction's datasheets with base points.
	Units(ctx context.Context, faction Faction) ([]Unit, error)
	// Wargear lists the wargear options for one unit.
	Wargear(ctx context.Context, faction Faction, unit Unit) ([]Wargear, error)
}
