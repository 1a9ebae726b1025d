package wahapedia

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/scraper"
)

// Units lists the faction's visible datasheets with their base points cost.
// Datasheets hidden with an inline display:none style are legacy entries and
// are skipped.
func (s *Service) Units(ctx context.Context, faction scraper.Faction) ([]scraper.Unit, error) {
	doc, err := s.page(ctx, s.urls.FactionDatasheetsURL(faction.Code))
	if err != nil {
		return nil, err
	}

	var units []scraper.Unit
	doc.Find(s.sel.Datasheet).Each(func(_ int, ds *goquery.Selection) {
		if hiddenDatasheet(ds) {
			return
		}
		name := cleanText(ds.Find(s.sel.UnitName).First().Text())
		if name == "" {
			name = cleanText(ds.Find(s.sel.UnitHeader).First().Text())
		}
		if name == "" {
			s.logger.Debug("skipping datasheet without a unit name",
				zap.String("faction", faction.Code))
			return
		}
		code, ok := ds.Attr("id")
		if !ok || code == "" {
			code = NormalizeCode(name)
		}
		units = append(units, scraper.Unit{
			FactionCode: faction.Code,
			Name:        name,
			Code:        code,
			BasePoints:  parsePoints(ds.Find(s.sel.UnitPrice).First().Text()),
			Source:      s.source,
			VersionID:   s.versionID,
		})
	})

	s.logger.Info("units extracted",
		zap.String("faction", faction.Code), zap.Int("count", len(units)))
	return units, nil
}

// Wargear lists the wargear options inside one unit's datasheet. A unit
// without a wargear block yields no records.
func (s *Service) Wargear(ctx context.Context, faction scraper.Faction, unit scraper.Unit) ([]scraper.Wargear, error) {
	doc, err := s.page(ctx, s.urls.UnitDatasheetURL(faction.Code, unit.Code))
	if err != nil {
		return nil, err
	}

	ds := s.unitDatasheet(doc, unit)
	if ds == nil {
		s.logger.Warn("unit datasheet not found on datasheets page",
			zap.String("faction", faction.Code), zap.String("unit", unit.Code))
		return nil, nil
	}

	list := s.wargearList(ds)
	if list == nil {
		s.logger.Debug("unit has no wargear options block",
			zap.String("faction", faction.Code), zap.String("unit", unit.Code))
		return nil, nil
	}

	var wargear []scraper.Wargear
	list.Find(s.sel.WargearItem).Each(func(_ int, li *goquery.Selection) {
		desc := cleanText(li.Text())
		if desc == "" {
			return
		}
		wargear = append(wargear, scraper.Wargear{
			FactionCode: faction.Code,
			UnitCode:    unit.Code,
			Description: desc,
			Source:      s.source,
			VersionID:   s.versionID,
		})
	})

	s.logger.Info("wargear found",
		zap.String("faction", faction.Code),
		zap.String("unit", unit.Code),
		zap.Int("count", len(wargear)))
	return wargear, nil
}

// unitDatasheet locates the datasheet block for one unit, by id first and
// by header name second.
func (s *Service) unitDatasheet(doc *goquery.Document, unit scraper.Unit) *goquery.Selection {
	var found *goquery.Selection
	doc.Find(s.sel.Datasheet).EachWithBreak(func(_ int, ds *goquery.Selection) bool {
		if hiddenDatasheet(ds) {
			return true
		}
		if id, ok := ds.Attr("id"); ok && id == unit.Code {
			found = ds
			return false
		}
		name := cleanText(ds.Find(s.sel.UnitName).First().Text())
		if strings.EqualFold(name, unit.Name) {
			found = ds
			return false
		}
		return true
	})
	return found
}

// wargearList finds the options list following the WARGEAR OPTIONS heading.
// The heading div carries no class, so it is matched on its own text.
func (s *Service) wargearList(ds *goquery.Selection) *goquery.Selection {
	var header *goquery.Selection
	ds.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		if strings.EqualFold(cleanText(ownText(div)), WargearHeaderText) {
			header = div
			return false
		}
		return true
	})
	if header == nil {
		return nil
	}
	list := header.NextAllFiltered(s.sel.WargearList).First()
	if list.Length() == 0 {
		list = header.Parent().Find(s.sel.WargearList).First()
	}
	if list.Length() == 0 {
		return nil
	}
	return list
}

// ownText returns the text of a node's direct text children, excluding
// nested elements.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

// hiddenDatasheet reports whether the datasheet is suppressed with an
// inline display:none.
func hiddenDatasheet(ds *goquery.Selection) bool {
	style, _ := ds.Attr("style")
	return strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none")
}
