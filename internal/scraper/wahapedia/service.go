package wahapedia

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/scraper"
)

// Fetcher is the page retrieval capability the service depends on. The
// production implementation applies rate limiting and retries.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config carries the service's collaborators. Zero Selectors means
// DefaultSelectors.
type Config struct {
	Fetcher   Fetcher
	Resolver  *URLResolver
	Selectors Selectors
	Source    string
	VersionID string
	Logger    *zap.Logger
}

// Service implements scraper.Service against the live site markup.
type Service struct {
	fetch     Fetcher
	urls      *URLResolver
	sel       Selectors
	source    string
	versionID string
	logger    *zap.Logger
}

var _ scraper.Service = (*Service)(nil)

// New builds the service. Fetcher and Resolver are required.
func New(cfg Config) (*Service, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("wahapedia: fetcher is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("wahapedia: url resolver is required")
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		fetch:     cfg.Fetcher,
		urls:      cfg.Resolver,
		sel:       cfg.Selectors,
		source:    cfg.Source,
		versionID: cfg.VersionID,
		logger:    cfg.Logger,
	}, nil
}

// Factions discovers every faction listed in the quick-start navigation
// dropdown. Entries missing a name or link are logged and skipped.
func (s *Service) Factions(ctx context.Context) ([]scraper.Faction, error) {
	doc, err := s.page(ctx, s.urls.QuickStartURL())
	if err != nil {
		return nil, err
	}

	nav := doc.Find(s.sel.FactionNav).First()
	if nav.Length() == 0 {
		return nil, fmt.Errorf("faction navigation block not found")
	}
	dropdown := nav.NextAllFiltered(s.sel.FactionDropdown).First()
	if dropdown.Length() == 0 {
		dropdown = nav.Find(s.sel.FactionDropdown).First()
	}
	if dropdown.Length() == 0 {
		return nil, fmt.Errorf("faction dropdown not found")
	}

	var factions []scraper.Faction
	dropdown.Find(s.sel.FactionItem).Each(func(_ int, a *goquery.Selection) {
		name := cleanText(a.Text())
		href, _ := a.Attr("href")
		if name == "" || href == "" {
			s.logger.Debug("skipping faction entry without name or link",
				zap.String("name", name), zap.String("href", href))
			return
		}
		code := FactionCodeFromURL(href)
		if code == "" {
			code = NormalizeFactionCode(name)
		}
		if !ValidFactionCode(code) {
			s.logger.Warn("faction code not in known roster", zap.String("code", code))
		}
		factions = append(factions, scraper.Faction{
			Name:      name,
			Code:      code,
			URL:       s.absolute(href),
			Source:    s.source,
			VersionID: s.versionID,
		})
	})

	s.logger.Info("factions discovered", zap.Int("count", len(factions)))
	return factions, nil
}

// ArmyRule extracts the faction-wide rule name from the Army-Rules section.
// A faction page without the section yields (nil, nil): absence is a skip,
// not a failure.
func (s *Service) ArmyRule(ctx context.Context, faction scraper.Faction) (*scraper.ArmyRule, error) {
	doc, err := s.page(ctx, s.factionURL(faction))
	if err != nil {
		return nil, err
	}

	anchor := doc.Find(s.sel.ArmyRuleAnchor).First()
	if anchor.Length() == 0 {
		s.logger.Info("faction has no army rules section", zap.String("faction", faction.Code))
		return nil, nil
	}

	name := s.ruleName(anchor)
	if name == "" {
		s.logger.Warn("army rules section present but no rule heading found",
			zap.String("faction", faction.Code))
		return nil, nil
	}

	return &scraper.ArmyRule{
		FactionName:  faction.Name,
		FactionCode:  faction.Code,
		FactionURL:   faction.URL,
		ArmyRuleName: name,
		Source:       s.source,
		VersionID:    s.versionID,
	}, nil
}

// ruleName reads the rule heading from the first content block after the
// army rules anchor. The two-column layout is preferred; otherwise the
// sibling scan is bounded by the next named anchor so a later section's
// heading is never misattributed.
func (s *Service) ruleName(anchor *goquery.Selection) string {
	block := anchor.NextAllFiltered(s.sel.ColumnBlock).First()
	if block.Length() > 0 {
		item := block.Find(s.sel.SectionItem).First()
		if item.Length() > 0 {
			return s.headingText(item)
		}
		return s.headingText(block)
	}

	for sib := anchor.Next(); sib.Length() > 0; sib = sib.Next() {
		if sib.Is("a[name]") {
			break
		}
		if sib.Is(s.sel.SectionItem) {
			return s.headingText(sib)
		}
		if item := sib.Find(s.sel.SectionItem).First(); item.Length() > 0 {
			return s.headingText(item)
		}
	}
	return ""
}

// headingText prefers the h3 heading and falls back to h2, matching the
// two layouts the site uses for rule blocks.
func (s *Service) headingText(item *goquery.Selection) string {
	h := item.Find(s.sel.RuleHeading).First()
	if h.Length() == 0 {
		h = item.Find(s.sel.RuleHeadingFallback).First()
	}
	return cleanText(h.Text())
}

func (s *Service) factionURL(faction scraper.Faction) string {
	if faction.URL != "" {
		return faction.URL
	}
	return s.urls.FactionURL(faction.Code)
}

func (s *Service) page(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := s.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

// absolute resolves a possibly host-relative href against the upstream base.
func (s *Service) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.urls.BaseURL() + "/" + strings.TrimPrefix(href, "/")
}

// cleanText trims and collapses internal whitespace runs.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
