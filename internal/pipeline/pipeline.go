// Package pipeline orchestrates a full scrape run: faction discovery
// followed by the five per-faction extraction stages, with every batch
// published to the bus and a status trail around the run and each stage.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/metrics"
	"github.com/warmeta/wahapedia-crawler/internal/scraper"
	"github.com/warmeta/wahapedia-crawler/internal/store"
)

// Stage names used in status details, metrics labels, and the summary.
const (
	StageFactions     = "factions"
	StageArmyRules    = "army_rules"
	StageDetachments  = "detachments"
	StageEnhancements = "enhancements"
	StageUnits        = "units"
	StageWargear      = "wargear"
)

// Summary aggregates one run's results. Skipped counts items that failed to
// extract and were dropped without aborting the run.
type Summary struct {
	RunID        string        `json:"run_id"`
	VersionID    string        `json:"version_id"`
	Factions     int           `json:"factions"`
	ArmyRules    int           `json:"army_rules"`
	Detachments  int           `json:"detachments"`
	Enhancements int           `json:"enhancements"`
	Units        int           `json:"units"`
	Wargear      int           `json:"wargear"`
	Skipped      int           `json:"skipped"`
	Duration     time.Duration `json:"duration"`
}

// Total returns the number of extracted records across all stages.
func (s Summary) Total() int {
	return s.Factions + s.ArmyRules + s.Detachments + s.Enhancements + s.Units + s.Wargear
}

func (s Summary) counts() map[string]int {
	return map[string]int{
		StageFactions:     s.Factions,
		StageArmyRules:    s.ArmyRules,
		StageDetachments:  s.Detachments,
		StageEnhancements: s.Enhancements,
		StageUnits:        s.Units,
		StageWargear:      s.Wargear,
	}
}

// Config carries the pipeline's collaborators and run scoping.
type Config struct {
	Service   scraper.Service
	Bus       *bus.Bus
	Store     store.Store
	Logger    *zap.Logger
	Source    string
	VersionID string
	// Factions restricts the run to the named faction codes. Empty means all.
	Factions []string
}

// Pipeline runs the extraction stages in order. Stages always run in
// sequence; a stage consumes only records its predecessor produced.
type Pipeline struct {
	svc       scraper.Service
	bus       *bus.Bus
	store     store.Store
	logger    *zap.Logger
	source    string
	versionID string
	only      map[string]bool
}

// New builds a pipeline. Service and Bus are required; a nil Store disables
// scrape-log persistence.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("pipeline: scraper service is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("pipeline: bus is required")
	}
	if cfg.Store == nil {
		cfg.Store = store.NoOp{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	var only map[string]bool
	if len(cfg.Factions) > 0 {
		only = make(map[string]bool, len(cfg.Factions))
		for _, code := range cfg.Factions {
			only[strings.ToLower(strings.TrimSpace(code))] = true
		}
	}
	return &Pipeline{
		svc:       cfg.Service,
		bus:       cfg.Bus,
		store:     cfg.Store,
		logger:    cfg.Logger,
		source:    cfg.Source,
		versionID: cfg.VersionID,
		only:      only,
	}, nil
}

// Run executes a full scrape. The started status is published before any
// fetching; completed or failed is published exactly once at the end. A run
// fails only on faction discovery or a cancelled context: a single item that
// cannot be extracted is skipped, reported, and the run carries on. A run
// that discovers zero factions completes normally with an empty summary.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	logger := p.logger.With(zap.String("run_id", runID), zap.String("version", p.versionID))

	summary := Summary{RunID: runID, VersionID: p.versionID}
	p.bus.PublishStatus("started", map[string]any{
		"run_id":  runID,
		"version": p.versionID,
		"source":  p.source,
	})
	logger.Info("scrape run started")

	err := p.run(ctx, logger, &summary)
	summary.Duration = time.Since(startedAt)

	if err != nil {
		metrics.ObserveRun("failed")
		p.bus.PublishStatus("failed", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
		p.record(logger, runID, "failed", startedAt, summary.Total())
		logger.Error("scrape run failed", zap.Error(err))
		return summary, err
	}

	metrics.ObserveRun("completed")
	p.bus.PublishStatus("completed", map[string]any{
		"run_id":          runID,
		"version":         p.versionID,
		"items_processed": summary.Total(),
		"skipped":         summary.Skipped,
		"counts":          summary.counts(),
		"duration_ms":     summary.Duration.Milliseconds(),
	})
	p.record(logger, runID, "completed", startedAt, summary.Total())
	logger.Info("scrape run completed",
		zap.Int("items", summary.Total()),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	p.stageStarted(summary.RunID, StageFactions)
	factions, err := p.svc.Factions(ctx)
	if err != nil {
		return fmt.Errorf("faction discovery: %w", err)
	}
	factions = p.filter(factions)
	summary.Factions = len(factions)
	metrics.ObserveExtracted(StageFactions, len(factions))
	p.bus.PublishFactionDiscovered(p.versionID, factions, len(factions))
	p.stageCompleted(summary.RunID, StageFactions, len(factions))
	if len(factions) == 0 {
		logger.Warn("no factions discovered, nothing to extract")
	}

	if err := p.armyRules(ctx, logger, factions, summary); err != nil {
		return err
	}
	detachments, err := p.detachments(ctx, logger, factions, summary)
	if err != nil {
		return err
	}
	if err := p.enhancements(ctx, logger, factions, detachments, summary); err != nil {
		return err
	}
	units, err := p.units(ctx, logger, factions, summary)
	if err != nil {
		return err
	}
	return p.wargear(ctx, logger, factions, units, summary)
}

func (p *Pipeline) armyRules(ctx context.Context, logger *zap.Logger, factions []scraper.Faction, summary *Summary) error {
	p.stageStarted(summary.RunID, StageArmyRules)
	var rules []scraper.ArmyRule
	for _, faction := range factions {
		rule, err := p.svc.ArmyRule(ctx, faction)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("army rule for %s: %w", faction.Code, err)
			}
			p.skip(logger, summary, StageArmyRules, faction.Code, err)
			continue
		}
		if rule == nil {
			metrics.ObserveSkipped(StageArmyRules)
			continue
		}
		rules = append(rules, *rule)
	}
	summary.ArmyRules = len(rules)
	metrics.ObserveExtracted(StageArmyRules, len(rules))
	p.bus.PublishArmyRuleExtracted(p.versionID, rules, len(rules))
	p.stageCompleted(summary.RunID, StageArmyRules, len(rules))
	logger.Info("army rules stage done", zap.Int("count", len(rules)))
	return nil
}

func (p *Pipeline) detachments(ctx context.Context, logger *zap.Logger, factions []scraper.Faction, summary *Summary) (map[string][]scraper.Detachment, error) {
	p.stageStarted(summary.RunID, StageDetachments)
	byFaction := make(map[string][]scraper.Detachment, len(factions))
	var all []scraper.Detachment
	for _, faction := range factions {
		found, err := p.svc.Detachments(ctx, faction)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("detachments for %s: %w", faction.Code, err)
			}
			p.skip(logger, summary, StageDetachments, faction.Code, err)
			continue
		}
		byFaction[faction.Code] = found
		all = append(all, found...)
	}
	summary.Detachments = len(all)
	metrics.ObserveExtracted(StageDetachments, len(all))
	p.bus.PublishDetachmentFound(p.versionID, all, len(all))
	p.stageCompleted(summary.RunID, StageDetachments, len(all))
	logger.Info("detachments stage done", zap.Int("count", len(all)))
	return byFaction, nil
}

func (p *Pipeline) enhancements(ctx context.Context, logger *zap.Logger, factions []scraper.Faction, detachments map[string][]scraper.Detachment, summary *Summary) error {
	p.stageStarted(summary.RunID, StageEnhancements)
	var all []scraper.Enhancement
	for _, faction := range factions {
		for _, detachment := range detachments[faction.Code] {
			found, err := p.svc.Enhancements(ctx, faction, detachment)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("enhancements for %s/%s: %w", faction.Code, detachment.Name, err)
				}
				p.skip(logger, summary, StageEnhancements, faction.Code+"/"+detachment.Name, err)
				continue
			}
			all = append(all, found...)
		}
	}
	summary.Enhancements = len(all)
	metrics.ObserveExtracted(StageEnhancements, len(all))
	p.bus.PublishEnhancementFound(p.versionID, all, len(all))
	p.stageCompleted(summary.RunID, StageEnhancements, len(all))
	logger.Info("enhancements stage done", zap.Int("count", len(all)))
	return nil
}

func (p *Pipeline) units(ctx context.Context, logger *zap.Logger, factions []scraper.Faction, summary *Summary) (map[string][]scraper.Unit, error) {
	p.stageStarted(summary.RunID, StageUnits)
	byFaction := make(map[string][]scraper.Unit, len(factions))
	var all []scraper.Unit
	for _, faction := range factions {
		found, err := p.svc.Units(ctx, faction)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("units for %s: %w", faction.Code, err)
			}
			p.skip(logger, summary, StageUnits, faction.Code, err)
			continue
		}
		byFaction[faction.Code] = found
		all = append(all, found...)
	}
	summary.Units = len(all)
	metrics.ObserveExtracted(StageUnits, len(all))
	p.bus.PublishUnitExtracted(p.versionID, all, len(all))
	p.stageCompleted(summary.RunID, StageUnits, len(all))
	logger.Info("units stage done", zap.Int("count", len(all)))
	return byFaction, nil
}

// wargear fetches each unit's wargear options and attaches them to the unit
// record. The stage batch carries the equipped unit records; Count is the
// number of wargear options across all units.
func (p *Pipeline) wargear(ctx context.Context, logger *zap.Logger, factions []scraper.Faction, units map[string][]scraper.Unit, summary *Summary) error {
	p.stageStarted(summary.RunID, StageWargear)
	var equipped []scraper.Unit
	total := 0
	for _, faction := range factions {
		for _, unit := range units[faction.Code] {
			found, err := p.svc.Wargear(ctx, faction, unit)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("wargear for %s/%s: %w", faction.Code, unit.Code, err)
				}
				p.skip(logger, summary, StageWargear, faction.Code+"/"+unit.Code, err)
				continue
			}
			unit.Wargear = found
			total += len(found)
			equipped = append(equipped, unit)
		}
	}
	summary.Wargear = total
	metrics.ObserveExtracted(StageWargear, total)
	p.bus.PublishWargearFound(p.versionID, equipped, total)
	p.stageCompleted(summary.RunID, StageWargear, total)
	logger.Info("wargear stage done", zap.Int("count", total), zap.Int("units", len(equipped)))
	return nil
}

func (p *Pipeline) stageStarted(runID, stage string) {
	p.bus.PublishStatus("started", map[string]any{
		"run_id": runID,
		"stage":  stage,
	})
}

func (p *Pipeline) stageCompleted(runID, stage string, count int) {
	p.bus.PublishStatus("completed", map[string]any{
		"run_id": runID,
		"stage":  stage,
		"count":  count,
	})
}

// skip drops one item that failed to extract: the failure is logged,
// counted, and reported on the bus, and the stage moves to the next item.
func (p *Pipeline) skip(logger *zap.Logger, summary *Summary, stage, item string, err error) {
	summary.Skipped++
	metrics.ObserveSkipped(stage)
	logger.Warn("item skipped",
		zap.String("stage", stage),
		zap.String("item", item),
		zap.Error(err))
	p.bus.PublishErrorReport(map[string]any{
		"run_id": summary.RunID,
		"stage":  stage,
		"item":   item,
		"error":  err.Error(),
	})
}

// filter applies the configured faction allowlist.
func (p *Pipeline) filter(factions []scraper.Faction) []scraper.Faction {
	if p.only == nil {
		return factions
	}
	kept := factions[:0]
	for _, faction := range factions {
		if p.only[strings.ToLower(faction.Code)] {
			kept = append(kept, faction)
		}
	}
	return kept
}

// record writes the scrape-log row. Persistence failure is reported but
// never fails the run.
func (p *Pipeline) record(logger *zap.Logger, runID, status string, startedAt time.Time, items int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.store.RecordScrape(ctx, store.ScrapeLog{
		Source:         p.source,
		ScrapeType:     "full_scrape",
		Status:         status,
		StartedAt:      startedAt,
		ItemsProcessed: items,
	})
	if err != nil {
		logger.Warn("failed to persist scrape log", zap.String("run_id", runID), zap.Error(err))
		p.bus.PublishErrorReport(map[string]any{
			"run_id": runID,
			"stage":  "scrape_log",
			"error":  err.Error(),
		})
	}
}
