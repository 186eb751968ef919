package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDroppedCount verifies the dropped counter accumulates per kind.
func TestDroppedCount(t *testing.T) {
	before := DroppedCount("metrics")
	RecordDropped("metrics")
	RecordDropped("metrics")
	assert.InDelta(t, before+2, DroppedCount("metrics"), 1e-9)
}

// TestHandlerExposesCollectors verifies registered collectors show up on scrape.
func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	Init()
	RecordEnqueued("set")
	SetPending(2)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `repsession_outbox_enqueued_total{kind="set"}`))
	assert.True(t, strings.Contains(out, "repsession_outbox_pending 2"))
}
