package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/bus/memory"
	"github.com/warmeta/wahapedia-crawler/internal/pipeline"
	"github.com/warmeta/wahapedia-crawler/internal/scraper"
	"github.com/warmeta/wahapedia-crawler/internal/store"
)

// fakeService serves canned extraction results and records call order.
type fakeService struct {
	factions     []scraper.Faction
	armyRules    map[string]*scraper.ArmyRule
	detachments  map[string][]scraper.Detachment
	enhancements map[string][]scraper.Enhancement
	units        map[string][]scraper.Unit
	wargear      map[string][]scraper.Wargear

	factionsErr  error
	armyRuleErrs map[string]error
	unitsErr     error

	calls []string
}

func (f *fakeService) Factions(context.Context) ([]scraper.Faction, error) {
	f.calls = append(f.calls, "factions")
	return f.factions, f.factionsErr
}

func (f *fakeService) ArmyRule(_ context.Context, faction scraper.Faction) (*scraper.ArmyRule, error) {
	f.calls = append(f.calls, "army_rule:"+faction.Code)
	if err := f.armyRuleErrs[faction.Code]; err != nil {
		return nil, err
	}
	return f.armyRules[faction.Code], nil
}

func (f *fakeService) Detachments(_ context.Context, faction scraper.Faction) ([]scraper.Detachment, error) {
	f.calls = append(f.calls, "detachments:"+faction.Code)
	return f.detachments[faction.Code], nil
}

func (f *fakeService) Enhancements(_ context.Context, faction scraper.Faction, detachment scraper.Detachment) ([]scraper.Enhancement, error) {
	f.calls = append(f.calls, "enhancements:"+faction.Code+":"+detachment.Name)
	return f.enhancements[faction.Code+":"+detachment.Name], nil
}

func (f *fakeService) Units(_ context.Context, faction scraper.Faction) ([]scraper.Unit, error) {
	f.calls = append(f.calls, "units:"+faction.Code)
	if f.unitsErr != nil {
		return nil, f.unitsErr
	}
	return f.units[faction.Code], nil
}

func (f *fakeService) Wargear(_ context.Context, faction scraper.Faction, unit scraper.Unit) ([]scraper.Wargear, error) {
	f.calls = append(f.calls, "wargear:"+faction.Code+":"+unit.Code)
	return f.wargear[faction.Code+":"+unit.Code], nil
}

func orksService() *fakeService {
	orks := scraper.Faction{Name: "Orks", Code: "orks", URL: "https://example.test/orks"}
	return &fakeService{
		factions: []scraper.Faction{orks},
		armyRules: map[string]*scraper.ArmyRule{
			"orks": {FactionCode: "orks", ArmyRuleName: "Waaagh!"},
		},
		detachments: map[string][]scraper.Detachment{
			"orks": {{FactionCode: "orks", Name: "War Horde"}},
		},
		enhancements: map[string][]scraper.Enhancement{
			"orks:War Horde": {{FactionCode: "orks", DetachmentName: "War Horde", Name: "Follow da Boss", Cost: 25}},
		},
		units: map[string][]scraper.Unit{
			"orks": {{FactionCode: "orks", Name: "Boyz", Code: "boyz", BasePoints: 85}},
		},
		wargear: map[string][]scraper.Wargear{
			"orks:boyz": {
				{FactionCode: "orks", UnitCode: "boyz", Description: "slugga to big shoota"},
				{FactionCode: "orks", UnitCode: "boyz", Description: "choppa to power klaw"},
			},
		},
	}
}

func newTestPipeline(t *testing.T, svc scraper.Service, st store.Store, factions ...string) (*pipeline.Pipeline, *bus.Bus) {
	t.Helper()
	b := bus.New(memory.New(), bus.Config{Source: "wahapedia-scraper"})
	p, err := pipeline.New(pipeline.Config{
		Service:   svc,
		Bus:       b,
		Store:     st,
		Source:    "wahapedia-scraper",
		VersionID: "10th",
		Factions:  factions,
	})
	require.NoError(t, err)
	return p, b
}

// stages extracts the stage detail from a status envelope slice, oldest first.
func stages(envs []bus.Envelope) []string {
	out := make([]string, 0, len(envs))
	for i := len(envs) - 1; i >= 0; i-- {
		stage, _ := envs[i].Details["stage"].(string)
		out = append(out, stage)
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	svc := orksService()
	p, b := newTestPipeline(t, svc, nil)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Factions)
	assert.Equal(t, 1, summary.ArmyRules)
	assert.Equal(t, 1, summary.Detachments)
	assert.Equal(t, 1, summary.Enhancements)
	assert.Equal(t, 1, summary.Units)
	assert.Equal(t, 2, summary.Wargear)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 7, summary.Total())
	assert.NotEmpty(t, summary.RunID)

	// Stage order is strict: discovery, then the five extraction stages.
	assert.Equal(t, []string{
		"factions",
		"army_rule:orks",
		"detachments:orks",
		"enhancements:orks:War Horde",
		"units:orks",
		"wargear:orks:boyz",
	}, svc.calls)

	// One run-level bracket plus one per stage, in stage order.
	started := b.Recent(bus.ChannelStatusStarted, 20)
	require.Len(t, started, 7)
	assert.Equal(t, []string{
		"", "factions", "army_rules", "detachments", "enhancements", "units", "wargear",
	}, stages(started))
	for _, env := range started {
		assert.Equal(t, summary.RunID, env.Details["run_id"])
	}

	completed := b.Recent(bus.ChannelStatusCompleted, 20)
	require.Len(t, completed, 7)
	assert.Equal(t, []string{
		"factions", "army_rules", "detachments", "enhancements", "units", "wargear", "",
	}, stages(completed))
	runDone := completed[0]
	assert.Equal(t, 7, runDone.Details["items_processed"])
	counts, ok := runDone.Details["counts"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 2, counts[pipeline.StageWargear])

	units := b.Recent(bus.ChannelUnitExtracted, 10)
	require.Len(t, units, 1)
	assert.Equal(t, 1, units[0].Count)
}

func TestRunAttachesWargearToUnits(t *testing.T) {
	svc := orksService()
	p, b := newTestPipeline(t, svc, nil)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	envs := b.Recent(bus.ChannelWargearFound, 10)
	require.Len(t, envs, 1)
	assert.Equal(t, 2, envs[0].Count)

	equipped, ok := envs[0].Data.([]scraper.Unit)
	require.True(t, ok)
	require.Len(t, equipped, 1)
	assert.Equal(t, "boyz", equipped[0].Code)
	require.Len(t, equipped[0].Wargear, 2)
	assert.Equal(t, "slugga to big shoota", equipped[0].Wargear[0].Description)
	assert.Equal(t, "boyz", equipped[0].Wargear[0].UnitCode)
}

func TestRunZeroFactionsCompletesNormally(t *testing.T) {
	svc := &fakeService{}
	p, b := newTestPipeline(t, svc, nil)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total())

	// Discovery publishes its empty batch; the later stages have nothing to
	// fetch but still publish their batches and status brackets.
	assert.Equal(t, []string{"factions"}, svc.calls)
	require.Len(t, b.Recent(bus.ChannelFactionDiscovered, 10), 1)
	assert.Equal(t, 0, b.Recent(bus.ChannelFactionDiscovered, 10)[0].Count)
	require.Len(t, b.Recent(bus.ChannelUnitExtracted, 10), 1)
	assert.Equal(t, 0, b.Recent(bus.ChannelUnitExtracted, 10)[0].Count)
	assert.Len(t, b.Recent(bus.ChannelStatusStarted, 20), 7)
	assert.Len(t, b.Recent(bus.ChannelStatusCompleted, 20), 7)
}

func TestRunFactionFilter(t *testing.T) {
	svc := orksService()
	svc.factions = append(svc.factions, scraper.Faction{Name: "Necrons", Code: "necrons"})
	p, _ := newTestPipeline(t, svc, nil, "ORKS")

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Factions, "filter match is case-insensitive")
	assert.NotContains(t, svc.calls, "units:necrons")
}

func TestRunDiscoveryFailurePublishesFailed(t *testing.T) {
	svc := &fakeService{factionsErr: errors.New("upstream down")}
	p, b := newTestPipeline(t, svc, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)

	// Run-level started plus the discovery stage bracket.
	require.Len(t, b.Recent(bus.ChannelStatusStarted, 10), 2)
	failed := b.Recent(bus.ChannelStatusFailed, 10)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Details["error"], "upstream down")
	assert.Empty(t, b.Recent(bus.ChannelStatusCompleted, 10))
}

func TestRunSkipsItemsThatFailToExtract(t *testing.T) {
	svc := orksService()
	svc.factions = append(svc.factions, scraper.Faction{Name: "Necrons", Code: "necrons"})
	svc.armyRuleErrs = map[string]error{"necrons": errors.New("faction page broke")}
	p, b := newTestPipeline(t, svc, nil)

	summary, err := p.Run(context.Background())
	require.NoError(t, err, "one broken faction must not abort the run")

	// The other faction's rule survives and the later stages still run.
	assert.Equal(t, 1, summary.ArmyRules)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, svc.calls, "units:orks")
	assert.Contains(t, svc.calls, "units:necrons")
	assert.Contains(t, svc.calls, "wargear:orks:boyz")

	rules := b.Recent(bus.ChannelArmyRuleExtracted, 10)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].Count)

	// The skipped item is reported without a run-level failure.
	reports := b.Recent(bus.ChannelStatusFailed, 10)
	require.Len(t, reports, 1)
	assert.Equal(t, bus.TypeErrorReport, reports[0].Type)
	assert.Equal(t, "army_rules", reports[0].Details["stage"])
	assert.Equal(t, "necrons", reports[0].Details["item"])
	require.NotEmpty(t, b.Recent(bus.ChannelStatusCompleted, 20))
}

func TestRunCancelledContextFailsRun(t *testing.T) {
	svc := orksService()
	svc.unitsErr = context.Canceled
	p, b := newTestPipeline(t, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	require.Error(t, err)

	failed := b.Recent(bus.ChannelStatusFailed, 10)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Details["error"], "units for orks")
}

// recordingStore captures scrape-log writes.
type recordingStore struct {
	store.NoOp
	entries []store.ScrapeLog
	err     error
}

func (r *recordingStore) RecordScrape(_ context.Context, entry store.ScrapeLog) (string, error) {
	r.entries = append(r.entries, entry)
	return "row-id", r.err
}

func TestRunPersistsScrapeLog(t *testing.T) {
	st := &recordingStore{}
	p, _ := newTestPipeline(t, orksService(), st)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, st.entries, 1)
	assert.Equal(t, "completed", st.entries[0].Status)
	assert.Equal(t, "full_scrape", st.entries[0].ScrapeType)
	assert.Equal(t, summary.Total(), st.entries[0].ItemsProcessed)
}

func TestRunStoreFailureDoesNotFailRun(t *testing.T) {
	st := &recordingStore{err: errors.New("db down")}
	p, b := newTestPipeline(t, orksService(), st)

	_, err := p.Run(context.Background())
	require.NoError(t, err, "persistence is best effort")

	reports := b.Recent(bus.ChannelStatusFailed, 10)
	require.Len(t, reports, 1)
	assert.Equal(t, bus.TypeErrorReport, reports[0].Type)
}

func TestNewRequiresCollaborators(t *testing.T) {
	b := bus.New(memory.New(), bus.Config{})

	_, err := pipeline.New(pipeline.Config{Bus: b})
	require.Error(t, err)

	_, err = pipeline.New(pipeline.Config{Service: &fakeService{}})
	require.Error(t, err)
}
