package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordAccept("tcp4")
	RecordConnectionClosed()
	RecordAcceptError("tcp6")
	RecordFrame(DirectionSent, "REQUEST_TO_UPPER", 13)
	RecordReceiveTimeout()
	RecordHTTPRequest("ringwire", "GET", "/health", 200, 12*time.Millisecond)

	logging.Infof("observability/metrics: registration idempotent and recording paths executed")
}

func TestRecordFrameCountsBytes(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(frameBytes.WithLabelValues(DirectionReceived))
	RecordFrame(DirectionReceived, "RESPONSE_FINISH", 8)
	RecordFrame(DirectionReceived, "RESPONSE_TO_LOWER", 20)
	after := testutil.ToFloat64(frameBytes.WithLabelValues(DirectionReceived))
	if after-before != 28 {
		t.Fatalf("frame_bytes_total delta=%v, want 28", after-before)
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(connectionsActive)
	RecordAccept("tcp4")
	RecordAccept("tcp6")
	RecordConnectionClosed()
	if got := testutil.ToFloat64(connectionsActive) - before; got != 1 {
		t.Fatalf("connections_active delta=%v, want 1", got)
	}
	RecordConnectionClosed()
}
