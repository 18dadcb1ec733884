package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestExecutionCounter(t *testing.T) {
	before := testutil.ToFloat64(executions.WithLabelValues("send_outreach", "blocked"))

	Execution("send_outreach", "blocked")
	Execution("send_outreach", "blocked")

	require.Equal(t, before+2, testutil.ToFloat64(executions.WithLabelValues("send_outreach", "blocked")))
}

func TestDiscoveredAddsCount(t *testing.T) {
	before := testutil.ToFloat64(postingsDiscovered.WithLabelValues("fixture"))
	Discovered("fixture", 6)
	require.Equal(t, before+6, testutil.ToFloat64(postingsDiscovered.WithLabelValues("fixture")))
}

func TestWriteTextfile(t *testing.T) {
	require.NoError(t, WriteTextfile(""))

	RunFinished(time.Unix(100, 0), time.Unix(160, 0))
	require.InDelta(t, 160, testutil.ToFloat64(lastRun), 0.0001)

	path := filepath.Join(t.TempDir(), "textfile", "jobpipe.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "jobpipe_pipeline_last_run_timestamp_seconds"))
}
