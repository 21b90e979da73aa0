package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTrade(t *testing.T) {
	before := testutil.ToFloat64(trades.WithLabelValues("completed", "arb"))
	ObserveTrade("completed", "arb", 120*time.Millisecond)
	if got := testutil.ToFloat64(trades.WithLabelValues("completed", "arb")); got != before+1 {
		t.Fatalf("trades=%v want=%v", got, before+1)
	}
}

func TestProviderCounters(t *testing.T) {
	IncProviderRequest("primary", OutcomeTransient)
	IncProviderRequest("primary", OutcomeTransient)
	if got := testutil.ToFloat64(providerRequests.WithLabelValues("primary", OutcomeTransient)); got < 2 {
		t.Fatalf("requests=%v want>=2", got)
	}
	IncEndpointDisabled("primary")
	if got := testutil.ToFloat64(endpointDisabled.WithLabelValues("primary")); got < 1 {
		t.Fatalf("disabled=%v want>=1", got)
	}
}

func TestGauges(t *testing.T) {
	SetQueueDepth(7)
	if got := testutil.ToFloat64(queueDepth); got != 7 {
		t.Fatalf("queue depth=%v want=7", got)
	}
	SetCredentialUtilization("credential-0", 0.85)
	if got := testutil.ToFloat64(credentialUtilization.WithLabelValues("credential-0")); got != 0.85 {
		t.Fatalf("utilization=%v want=0.85", got)
	}
	SetWorkersAlive(3)
	if got := testutil.ToFloat64(workersAlive); got != 3 {
		t.Fatalf("alive=%v want=3", got)
	}
}
