package wahapedia

// Selectors holds the CSS selectors the extraction stages query. Keeping
// them in one place makes upstream markup drift a data change.
type Selectors struct {
	// Faction discovery on the quick-start page.
	FactionNav      string
	FactionDropdown string
	FactionItem     string

	// Section anchors on the faction page.
	ArmyRuleAnchor    string
	DetachmentAnchor  string
	EnhancementAnchor string

	// Shared layout blocks.
	ColumnBlock string
	SectionItem string

	// Army rule headings, in preference order.
	RuleHeading         string
	RuleHeadingFallback string

	// Detachment headings following the anchor.
	DetachmentHeading string

	// Enhancement rows inside a section item.
	EnhancementSpans string

	// Unit datasheets.
	Datasheet  string
	UnitHeader string
	UnitName   string
	UnitPrice  string

	// Wargear lists inside a datasheet.
	WargearList string
	WargearItem string
}

// WargearHeaderText marks the wargear block inside a datasheet. The block
// has no distinguishing class, so stages match on the heading text.
const WargearHeaderText = "WARGEAR OPTIONS"

// DefaultSelectors returns the selector set for the live site markup.
func DefaultSelectors() Selectors {
	return Selectors{
		FactionNav:      ".NavBtn_Factions",
		FactionDropdown: ".NavDropdown-content",
		FactionItem:     ".BreakInsideAvoid a",

		ArmyRuleAnchor:    `a[name="Army-Rules"]`,
		DetachmentAnchor:  `a[name*="Detachment-Rule"]`,
		EnhancementAnchor: `a[name*="Enhancements"]`,

		ColumnBlock: "div.Columns2",
		SectionItem: "div.BreakInsideAvoid",

		RuleHeading:         "h3",
		RuleHeadingFallback: "h2",

		DetachmentHeading: "h2.outline_header",

		EnhancementSpans: "tbody tr td ul li span",

		Datasheet:  "div.datasheet",
		UnitHeader: ".dsH2Header",
		UnitName:   ".dsH2Header > div",
		UnitPrice:  ".PriceTag",

		WargearList: "ul",
		WargearItem: "li",
	}
}
