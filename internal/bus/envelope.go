// Package bus implements the publish/subscribe client used to announce
// extraction results: tagged JSON envelopes on named channels, a bounded
// recent-message buffer per channel, and a background dispatch loop that
// fans messages out to locally registered handlers.
package bus

import (
	"errors"
	"fmt"
)

// MessageType identifies the kind of payload carried by an Envelope. The set
// is closed; consumers must not treat it as discoverable.
type MessageType string

// Supported message types.
const (
	TypeFactionDiscovered MessageType = "faction_discovered"
	TypeArmyRuleExtracted MessageType = "army_rule_extracted"
	TypeDetachmentFound   MessageType = "detachment_found"
	TypeEnhancementFound  MessageType = "enhancement_found"
	TypeUnitExtracted     MessageType = "unit_extracted"
	TypeWargearFound      MessageType = "wargear_found"
	TypeStatusUpdate      MessageType = "status_update"
	TypeErrorReport       MessageType = "error_report"
	TypeVersionChange     MessageType = "version_change"
)

// Channel names, one per entity kind plus one per status outcome. The set is
// closed; see MessageType.
const (
	ChannelFactionDiscovered = "scraper:faction:discovered"
	ChannelArmyRuleExtracted = "scraper:armyrule:extracted"
	ChannelDetachmentFound   = "scraper:detachment:found"
	ChannelEnhancementFound  = "scraper:enhancement:found"
	ChannelUnitExtracted     = "scraper:unit:extracted"
	ChannelWargearFound      = "scraper:wargear:found"
	ChannelStatusStarted     = "scraper:status:started"
	ChannelStatusCompleted   = "scraper:status:completed"
	ChannelStatusFailed      = "scraper:status:failed"
	ChannelVersionChange     = "scraper:version:change"
)

// StatusChannel maps a status string to its channel. Unknown statuses route
// to the started channel rather than failing.
func StatusChannel(status string) string {
	switch status {
	case "completed":
		return ChannelStatusCompleted
	case "failed", "error":
		return ChannelStatusFailed
	default:
		return ChannelStatusStarted
	}
}

// Envelope is the unit of transport on the bus. Timestamp and Source are
// stamped by the bus at publish time; callers fill the rest.
type Envelope struct {
	Type      MessageType    `json:"type"`
	Version   string         `json:"version,omitempty"`
	Data      any            `json:"data,omitempty"`
	Count     int            `json:"count,omitempty"`
	Status    string         `json:"status,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
}

// Validate performs coarse validation on Envelope payloads.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeFactionDiscovered, TypeArmyRuleExtracted, TypeDetachmentFound,
		TypeEnhancementFound, TypeUnitExtracted, TypeWargearFound,
		TypeErrorReport, TypeVersionChange:
	case TypeStatusUpdate:
		if e.Status == "" {
			return errors.New("status update requires status")
		}
	default:
		return fmt.Errorf("unknown message type %q", e.Type)
	}
	return nil
}
