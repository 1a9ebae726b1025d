// Package scraper defines the extraction records, the service contract all
// source backends implement, and the closed factory that resolves a backend
// at startup.
package scraper

// Faction is one playable faction discovered on the upstream index page.
// Records are immutable once constructed and handed to the bus.
type Faction struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	VersionID string `json:"version_id"`
}

// ArmyRule is the faction-wide rule extracted from a faction page. One per
// faction at most; extraction failure yields no record rather than a
// placeholder.
type ArmyRule struct {
	FactionName  string `json:"faction_name"`
	FactionCode  string `json:"faction_code"`
	FactionURL   string `json:"faction_url"`
	ArmyRuleName string `json:"army_rule_name"`
	Source       string `json:"source"`
	VersionID    string `json:"version_id"`
}

// Detachment is one detachment choice within a faction.
type Detachment struct {
	FactionCode string `json:"faction_code"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	VersionID   string `json:"version_id"`
}

// Enhancement is one purchasable enhancement within a detachment.
type Enhancement struct {
	FactionCode    string `json:"faction_code"`
	DetachmentName string `json:"detachment_name"`
	Name           string `json:"name"`
	Cost           int    `json:"cost"`
	Source         string `json:"source"`
	VersionID      string `json:"version_id"`
}

// Unit is one datasheet within a faction. Wargear is populated by the
// wargear stage after the unit record exists.
type Unit struct {
	FactionCode string    `json:"faction_code"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	BasePoints  int       `json:"base_points"`
	Wargear     []Wargear `json:"wargear,omitempty"`
	Source      string    `json:"source"`
	VersionID   string    `json:"version_id"`
}

// Wargear is one wargear option attached to a unit.
type Wargear struct {
	FactionCode string `json:"faction_code"`
	UnitCode    string `json:"unit_code"`
	Description string `json:"description"`
	Source      string `json:"source"`
	VersionID   string `json:"version_id"`
}
