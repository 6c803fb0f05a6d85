package observability

import (
	"testing"
	"time"

	"github.com/danmuck/serialgw/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("gw-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnection("accepted")
	RecordOutboundWrite(5)
	RecordEgress("published")
}

func TestFrameCountersByLabel(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(frameErrors.WithLabelValues("crc_mismatch"))
	RecordFrameDropped("crc_mismatch")
	RecordFrameDropped("crc_mismatch")
	if got := testutil.ToFloat64(frameErrors.WithLabelValues("crc_mismatch")) - before; got != 2 {
		t.Fatalf("crc_mismatch delta got=%v want=2", got)
	}

	before = testutil.ToFloat64(framesDecoded.WithLabelValues("cobs"))
	RecordFrameDecoded("cobs")
	if got := testutil.ToFloat64(framesDecoded.WithLabelValues("cobs")) - before; got != 1 {
		t.Fatalf("decoded delta got=%v want=1", got)
	}
}
