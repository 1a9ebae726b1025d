package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmeta/wahapedia-crawler/internal/app"
	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// localConfig disables every external dependency so the full graph builds
// in-process.
const localConfig = `
bus:
  nats_url: ""
db:
  dsn: ""
metrics:
  listen_addr: ""
logging:
  development: true
`

func TestNewBuildsServiceGraph(t *testing.T) {
	a, err := app.New(context.Background(), writeConfig(t, localConfig))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Bus())
	assert.NotNil(t, a.Pipeline())
	assert.Equal(t, store.NoOp{}, a.Store())
	assert.Equal(t, "wahapedia", a.Config().Scraper.Source)
}

func TestNewAnnouncesVersionFallback(t *testing.T) {
	path := writeConfig(t, localConfig+`
scraper:
  version_id: "11th"
`)
	a, err := app.New(context.Background(), path)
	require.NoError(t, err)
	defer a.Close()

	changes := a.Bus().Recent(bus.ChannelVersionChange, 10)
	require.Len(t, changes, 1)
	assert.Equal(t, bus.TypeVersionChange, changes[0].Type)
	assert.Equal(t, "10th", changes[0].Version)
	assert.Equal(t, "11th", changes[0].Details["previous_version"])
}

func TestNewRejectsUnknownSource(t *testing.T) {
	path := writeConfig(t, localConfig+`
scraper:
  source: "bogus"
`)
	_, err := app.New(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scraper source")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, localConfig+`
upstream:
  rate_limit_min: 5.0
  rate_limit_max: 1.0
`)
	_, err := app.New(context.Background(), path)
	require.Error(t, err)
}

func TestNewMissingConfigFile(t *testing.T) {
	_, err := app.New(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
