package metrics

import (
	"context"
	"testing"

	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCollectSetsNodeGaugeByStatus(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.UpsertNodeHeartbeat(ctx, "node-a", repository.HeartbeatUpdate{Status: types.NodeStatusAvailable}); err != nil {
		t.Fatalf("UpsertNodeHeartbeat: %v", err)
	}
	if _, err := repo.UpsertNodeHeartbeat(ctx, "node-b", repository.HeartbeatUpdate{Status: types.NodeStatusAvailable}); err != nil {
		t.Fatalf("UpsertNodeHeartbeat: %v", err)
	}
	if _, err := repo.UpsertNodeHeartbeat(ctx, "node-c", repository.HeartbeatUpdate{Status: types.NodeStatusBusy}); err != nil {
		t.Fatalf("UpsertNodeHeartbeat: %v", err)
	}

	c := NewCollector(repo)
	c.collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusAvailable))); got != 2 {
		t.Errorf("available nodes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusBusy))); got != 1 {
		t.Errorf("busy nodes = %v, want 1", got)
	}
}

func TestCollectorCollectResetsStaleLabels(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.UpsertNodeHeartbeat(ctx, "node-a", repository.HeartbeatUpdate{Status: types.NodeStatusBusy}); err != nil {
		t.Fatalf("UpsertNodeHeartbeat: %v", err)
	}

	c := NewCollector(repo)
	c.collect()
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusBusy))); got != 1 {
		t.Fatalf("busy nodes = %v, want 1", got)
	}

	if _, err := repo.UpsertNodeHeartbeat(ctx, "node-a", repository.HeartbeatUpdate{Status: types.NodeStatusAvailable}); err != nil {
		t.Fatalf("UpsertNodeHeartbeat: %v", err)
	}
	c.collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusBusy))); got != 0 {
		t.Errorf("busy nodes after reset = %v, want 0 (gauge should not carry stale labels)", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusAvailable))); got != 1 {
		t.Errorf("available nodes = %v, want 1", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	repo := repository.NewMemoryRepository()
	c := NewCollector(repo)
	c.Start()
	c.Stop()
}
