package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fortressi/routingslip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeItinerary(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "itinerary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunInspectList(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	common := []string{"--store", "file", "--state-dir", stateDir, "--publisher", "none", "--log-level", "error"}

	itinerary := writeItinerary(t, dir, `
variables:
  customer: c-42
activities:
  - name: create_database
  - name: create_server
  - name: set
    arguments:
      env: staging
`)

	out, err := execute(t, append([]string{"run", itinerary}, common...)...)
	require.NoError(t, err)

	ev, err := routingslip.DecodeEvent([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	completed, ok := ev.(routingslip.RoutingSlipCompleted)
	require.True(t, ok)
	env, ok := completed.Variables.Get("env")
	require.True(t, ok)
	s, _ := env.AsString()
	assert.Equal(t, "staging", s)

	tn := completed.TrackingNumber.String()

	out, err = execute(t, append([]string{"inspect", tn, "--format", "dot"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "digraph routing_slip")
	assert.Contains(t, out, "n001_create_server")

	out, err = execute(t, append([]string{"list"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, tn)
	assert.Contains(t, out, "completed")

	out, err = execute(t, append([]string{"resume", tn}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "is completed")
}

func TestRunFaultedSlip(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--store", "file", "--state-dir", filepath.Join(dir, "state"), "--publisher", "none", "--log-level", "error"}

	itinerary := writeItinerary(t, dir, `
activities:
  - name: create_database
  - name: fail
    arguments:
      reason: out of capacity
  - name: create_server
`)

	out, err := execute(t, append([]string{"run", itinerary}, common...)...)
	var fe *routingslip.FaultError
	require.ErrorAs(t, err, &fe)

	ev, derr := routingslip.DecodeEvent([]byte(strings.TrimSpace(out)))
	require.NoError(t, derr)
	faulted, ok := ev.(routingslip.RoutingSlipFaulted)
	require.True(t, ok)
	assert.Equal(t, "out of capacity", faulted.FaultedActivity.Reason)
	require.Len(t, faulted.Compensated, 1)
	assert.Equal(t, routingslip.ActivityName("create_database"), faulted.Compensated[0].Name)
	require.Len(t, faulted.DiscardedItinerary, 2)

	_, err = execute(t, append([]string{"rm", faulted.TrackingNumber.String()}, common...)...)
	require.NoError(t, err)

	out, err = execute(t, append([]string{"list"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No routing slips found.")
}

func TestRunRejectsUnknownActivity(t *testing.T) {
	dir := t.TempDir()
	itinerary := writeItinerary(t, dir, "activities:\n  - name: teleport\n")

	_, err := execute(t, "run", itinerary, "--store", "memory", "--publisher", "none", "--log-level", "error")
	var pe *routingslip.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestRunRejectsStoredTrackingNumber(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--store", "file", "--state-dir", filepath.Join(dir, "state"), "--publisher", "none", "--log-level", "error"}
	t.Cleanup(func() { _ = runCmd.Flags().Set("tracking-number", "") })

	itinerary := writeItinerary(t, dir, "activities:\n  - name: create_database\n")
	out, err := execute(t, append([]string{"run", itinerary}, common...)...)
	require.NoError(t, err)
	ev, err := routingslip.DecodeEvent([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	tn := ev.(routingslip.RoutingSlipCompleted).TrackingNumber.String()

	out, err = execute(t, append([]string{"run", itinerary, "--tracking-number", tn}, common...)...)
	assert.ErrorIs(t, err, routingslip.ErrSlipExists)
	assert.Contains(t, err.Error(), "use resume")
	assert.Empty(t, out)

	out, err = execute(t, append([]string{"list"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestStoreFlagWarnsAboutSharedStateDir(t *testing.T) {
	usage := rootCmd.PersistentFlags().Lookup("store").Usage
	assert.Contains(t, usage, "one process per --state-dir")
	assert.Contains(t, rootCmd.Long, "never point two")
}
