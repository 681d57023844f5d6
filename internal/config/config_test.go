package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
engine:
  activity_timeout: 5s
  retry:
    limit: 1
    interval: 10ms
  lease_ttl: 1m
store:
  kind: redis
  redis:
    addr: redis:6379
publisher:
  kind: redis
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Engine.ActivityTimeout)
	assert.Equal(t, 1, cfg.Engine.Retry.Limit)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.Retry.Interval)
	assert.Equal(t, time.Minute, cfg.Engine.LeaseTTL)
	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "routingslip:", cfg.Store.Redis.Prefix, "unset fields keep their default")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Minute, cfg.Engine.CompensationTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "store:\n  kind: file\n")
	t.Setenv("ROUTINGSLIP_STORE", "memory")
	t.Setenv("ROUTINGSLIP_RETRY_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.Equal(t, 7, cfg.Engine.Retry.Limit)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Engine.LeaseTTL = 0
	cfg.Engine.Retry.Jitter = 2
	cfg.Store.Kind = "postgres"
	cfg.Publisher.Kind = "kafka"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"lease_ttl", "jitter", "store.kind", "publisher.kind"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	policy := cfg.Engine.RetryPolicy()
	assert.Equal(t, routingslip.DefaultRetryPolicy(), policy)
	assert.Len(t, cfg.Engine.Options(), 6)

	cfg.Engine.Interruptible = true
	assert.Len(t, cfg.Engine.Options(), 7)
}

func TestParseItinerary(t *testing.T) {
	file, err := ParseItinerary(strings.NewReader(`
variables:
  order: o-1
  amount: 12.5
activities:
  - name: reserve
    address: queue://inventory
    arguments:
      seats: 2
  - name: charge
`))
	require.NoError(t, err)
	require.Len(t, file.Activities, 2)
	assert.Equal(t, "queue://inventory", file.Activities[0].Address)

	registry := routingslip.NewActivityRegistry()
	registry.MustRegister(
		routingslip.NewExecuteOnlyActivity("reserve", nil),
		routingslip.NewExecuteOnlyActivity("charge", nil),
	)
	slip, err := file.Builder(registry).Build()
	require.NoError(t, err)

	itinerary := slip.Itinerary()
	require.Len(t, itinerary, 2)
	assert.Equal(t, routingslip.ActivityName("reserve"), itinerary[0].Name)
	seats, ok := itinerary[0].Arguments.Get("seats")
	require.True(t, ok)
	n, ok := seats.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	order, ok := slip.Variables().Get("order")
	require.True(t, ok)
	s, _ := order.AsString()
	assert.Equal(t, "o-1", s)
}

func TestParseItineraryRejectsUnknownFields(t *testing.T) {
	_, err := ParseItinerary(strings.NewReader("activities:\n  - nam: reserve\n"))
	assert.Error(t, err)
}

func TestItineraryWithUnknownActivity(t *testing.T) {
	file, err := ParseItinerary(strings.NewReader("activities:\n  - name: reserve\n  - name: teleport\n"))
	require.NoError(t, err)

	_, err = file.Builder(routingslip.NewActivityRegistry()).Build()
	var pe *routingslip.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Problems(), 2)
}
