package wahapedia

import (
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/scraper"
)

// Detachments lists the detachment headings following the detachment rules
// anchor. The scan stops at the next named section anchor so unrelated
// headings later on the page are never collected.
func (s *Service) Detachments(ctx context.Context, faction scraper.Faction) ([]scraper.Detachment, error) {
	doc, err := s.page(ctx, s.factionURL(faction))
	if err != nil {
		return nil, err
	}

	anchor := doc.Find(s.sel.DetachmentAnchor).First()
	if anchor.Length() == 0 {
		s.logger.Info("faction has no detachment section", zap.String("faction", faction.Code))
		return nil, nil
	}

	seen := make(map[string]bool)
	var detachments []scraper.Detachment
	collect := func(heading *goquery.Selection) {
		name := cleanText(heading.Text())
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		detachments = append(detachments, scraper.Detachment{
			FactionCode: faction.Code,
			Name:        name,
			Source:      s.source,
			VersionID:   s.versionID,
		})
	}

	for sib := anchor.Next(); sib.Length() > 0; sib = sib.Next() {
		if s.sectionBoundary(sib, "Detachment-Rule") {
			break
		}
		if sib.Is(s.sel.DetachmentHeading) {
			collect(sib)
			continue
		}
		sib.Find(s.sel.DetachmentHeading).Each(func(_ int, h *goquery.Selection) {
			collect(h)
		})
	}

	s.logger.Info("detachments found",
		zap.String("faction", faction.Code), zap.Int("count", len(detachments)))
	return detachments, nil
}

// Enhancements lists the enhancements attributed to one detachment. The
// section groups items under detachment headings; pages without headings
// attribute every item to the requested detachment.
func (s *Service) Enhancements(ctx context.Context, faction scraper.Faction, detachment scraper.Detachment) ([]scraper.Enhancement, error) {
	doc, err := s.page(ctx, s.factionURL(faction))
	if err != nil {
		return nil, err
	}

	anchor := doc.Find(s.sel.EnhancementAnchor).First()
	if anchor.Length() == 0 {
		s.logger.Info("faction has no enhancements section", zap.String("faction", faction.Code))
		return nil, nil
	}

	var enhancements []scraper.Enhancement
	collect := func(item *goquery.Selection) {
		name, cost, ok := s.enhancementRow(item)
		if !ok {
			return
		}
		enhancements = append(enhancements, scraper.Enhancement{
			FactionCode:    faction.Code,
			DetachmentName: detachment.Name,
			Name:           name,
			Cost:           cost,
			Source:         s.source,
			VersionID:      s.versionID,
		})
	}

	sawHeading := false
	current := ""
	for sib := anchor.Next(); sib.Length() > 0; sib = sib.Next() {
		if s.sectionBoundary(sib, "Enhancements") {
			break
		}
		if sib.Is(s.sel.DetachmentHeading) {
			sawHeading = true
			current = cleanText(sib.Text())
			continue
		}
		if sawHeading && !strings.EqualFold(current, detachment.Name) {
			continue
		}
		if sib.Is(s.sel.SectionItem) {
			collect(sib)
			continue
		}
		sib.Find(s.sel.SectionItem).Each(func(_ int, item *goquery.Selection) {
			collect(item)
		})
	}

	s.logger.Info("enhancements found",
		zap.String("faction", faction.Code),
		zap.String("detachment", detachment.Name),
		zap.Int("count", len(enhancements)))
	return enhancements, nil
}

// enhancementRow reads one enhancement item: the first span carries the
// name, the last the points cost. Rows without both are skipped.
func (s *Service) enhancementRow(item *goquery.Selection) (string, int, bool) {
	spans := item.Find(s.sel.EnhancementSpans)
	if spans.Length() < 2 {
		s.logger.Debug("enhancement row missing name or cost span")
		return "", 0, false
	}
	name := cleanText(spans.First().Text())
	cost := parsePoints(spans.Last().Text())
	if name == "" {
		return "", 0, false
	}
	return name, cost, true
}

// sectionBoundary reports whether sib is a named anchor opening a different
// section than the one whose name contains fragment.
func (s *Service) sectionBoundary(sib *goquery.Selection, fragment string) bool {
	if !sib.Is("a[name]") {
		return false
	}
	name, _ := sib.Attr("name")
	return !strings.Contains(name, fragment)
}

// parsePoints extracts the first digit run from a cost label such as
// "+25 pts", or 0 when the label carries no number.
func parsePoints(label string) int {
	start := -1
	for i, r := range label {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(label[start:i])
			return n
		}
	}
	if start >= 0 {
		n, _ := strconv.Atoi(label[start:])
		return n
	}
	return 0
}
