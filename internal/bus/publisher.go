package bus

// Convenience publishers, one per entity kind plus the status family. They
// fix the channel and message type so extraction stages only supply payloads.

// PublishFactionDiscovered announces the faction-list batch.
func (b *Bus) PublishFactionDiscovered(version string, factions any, count int) bool {
	return b.Publish(ChannelFactionDiscovered, Envelope{
		Type:    TypeFactionDiscovered,
		Version: version,
		Data:    factions,
		Count:   count,
	})
}

// PublishArmyRuleExtracted announces the army-rule batch for a version.
func (b *Bus) PublishArmyRuleExtracted(version string, rules any, count int) bool {
	return b.Publish(ChannelArmyRuleExtracted, Envelope{
		Type:    TypeArmyRuleExtracted,
		Version: version,
		Data:    rules,
		Count:   count,
	})
}

// PublishDetachmentFound announces the detachment batch for a version.
func (b *Bus) PublishDetachmentFound(version string, detachments any, count int) bool {
	return b.Publish(ChannelDetachmentFound, Envelope{
		Type:    TypeDetachmentFound,
		Version: version,
		Data:    detachments,
		Count:   count,
	})
}

// PublishEnhancementFound announces the enhancement batch for a version.
func (b *Bus) PublishEnhancementFound(version string, enhancements any, count int) bool {
	return b.Publish(ChannelEnhancementFound, Envelope{
		Type:    TypeEnhancementFound,
		Version: version,
		Data:    enhancements,
		Count:   count,
	})
}

// PublishUnitExtracted announces the unit batch for a version.
func (b *Bus) PublishUnitExtracted(version string, units any, count int) bool {
	return b.Publish(ChannelUnitExtracted, Envelope{
		Type:    TypeUnitExtracted,
		Version: version,
		Data:    units,
		Count:   count,
	})
}

// PublishWargearFound announces the wargear batch for a version. The payload
// is the unit records with their wargear options attached; count is the total
// number of options.
func (b *Bus) PublishWargearFound(version string, wargear any, count int) bool {
	return b.Publish(ChannelWargearFound, Envelope{
		Type:    TypeWargearFound,
		Version: version,
		Data:    wargear,
		Count:   count,
	})
}

// PublishStatus routes a status update to the started/completed/failed
// channel. Status publication is unconditional for every stage batch, even
// when zero items were extracted.
func (b *Bus) PublishStatus(status string, details map[string]any) bool {
	return b.Publish(StatusChannel(status), Envelope{
		Type:    TypeStatusUpdate,
		Status:  status,
		Details: details,
	})
}

// PublishErrorReport announces a non-fatal failure for observability.
func (b *Bus) PublishErrorReport(details map[string]any) bool {
	return b.Publish(ChannelStatusFailed, Envelope{
		Type:    TypeErrorReport,
		Details: details,
	})
}

// PublishVersionChange announces that the targeted game version differs from
// what was previously observed.
func (b *Bus) PublishVersionChange(oldVersion, newVersion string) bool {
	return b.Publish(ChannelVersionChange, Envelope{
		Type:    TypeVersionChange,
		Version: newVersion,
		Details: map[string]any{"previous_version": oldVersion},
	})
}
