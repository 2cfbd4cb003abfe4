package metrics

import (
	"context"
	"time"

	"github.com/lilac-sh/lilac/pkg/repository"
)

// Collector periodically snapshots gauge-shaped metrics that are cheapest to
// derive by polling the repository rather than updating at every call site —
// node counts by status, the way the teacher's collector snapshots nodes by
// role and status.
type Collector struct {
	repo   repository.Repository
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over repo.
func NewCollector(repo repository.Repository) *Collector {
	return &Collector{
		repo:   repo,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodes, err := c.repo.ListAllNodes(ctx)
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, node := range nodes {
		counts[string(node.Status)]++
	}

	NodesTotal.Reset()
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}
