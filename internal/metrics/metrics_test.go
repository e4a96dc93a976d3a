package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jobforge/jobforge/internal/worker"
)

func TestEventListenerIncrementsCompletedCounter(t *testing.T) {
	l := NewEventListener()
	before := testutil.ToFloat64(jobsCompletedTotal.WithLabelValues("notifications"))

	l.OnEvent(worker.Event{Queue: "notifications", Type: worker.EventCompleted, Data: map[string]interface{}{"duration_ms": int64(42)}})

	after := testutil.ToFloat64(jobsCompletedTotal.WithLabelValues("notifications"))
	if after != before+1 {
		t.Fatalf("expected jobs_completed_total to increment by 1, before=%v after=%v", before, after)
	}
}

func TestEventListenerIncrementsFailedCounter(t *testing.T) {
	l := NewEventListener()
	before := testutil.ToFloat64(jobsFailedTotal.WithLabelValues("cleanup"))

	l.OnEvent(worker.Event{Queue: "cleanup", Type: worker.EventFailed})

	after := testutil.ToFloat64(jobsFailedTotal.WithLabelValues("cleanup"))
	if after != before+1 {
		t.Fatalf("expected jobs_failed_total to increment by 1, before=%v after=%v", before, after)
	}
}

func TestSetQueueDepthPublishesAllThreePlacements(t *testing.T) {
	SetQueueDepth("notifications", 3, 1, 2)

	if got := testutil.ToFloat64(queueDepth.WithLabelValues("notifications", "waiting")); got != 3 {
		t.Fatalf("expected waiting depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(queueDepth.WithLabelValues("notifications", "active")); got != 1 {
		t.Fatalf("expected active depth 1, got %v", got)
	}
	if got := testutil.ToFloat64(queueDepth.WithLabelValues("notifications", "delayed")); got != 2 {
		t.Fatalf("expected delayed depth 2, got %v", got)
	}
}
