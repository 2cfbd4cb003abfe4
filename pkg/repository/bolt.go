package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/lilac-sh/lilac/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes    = []byte("nodes")
	bucketJobs     = []byte("jobs")
	bucketQueues   = []byte("queues")
	bucketClusters = []byte("clusters")
)

// BoltRepository is a Repository implementation backed by a single BoltDB
// file. Compare-and-set operations (AssignJobToNode, ClearNodeAssignment)
// run inside one bolt.Update transaction, which bbolt serialises against
// every other writer, giving the "single atomic statement" semantics spec
// §9 requires without a SQL backend.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (creating if absent) lilac.db under dataDir and
// ensures all buckets exist.
func NewBoltRepository(dataDir string) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "lilac.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open repository database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketJobs, bucketQueues, bucketClusters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error { return r.db.Close() }

func getJSON(tx *bolt.Tx, bucket []byte, id string, v interface{}) error {
	b := tx.Bucket(bucket)
	data := b.Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

func putJSON(tx *bolt.Tx, bucket []byte, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(id), data)
}

// --- Queues ---

func (r *BoltRepository) CreateQueue(ctx context.Context, queue *types.Queue) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketQueues, queue.ID, queue)
	})
}

func (r *BoltRepository) GetQueue(ctx context.Context, queueID string) (*types.Queue, error) {
	var q types.Queue
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketQueues, queueID, &q)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *BoltRepository) ListQueuesSorted(ctx context.Context) ([]*types.Queue, error) {
	var out []*types.Queue
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueues).ForEach(func(k, v []byte) error {
			var q types.Queue
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			out = append(out, &q)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Jobs ---

func (r *BoltRepository) CreateJob(ctx context.Context, job *types.Job) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketJobs, job.ID, job)
	})
}

func (r *BoltRepository) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var j types.Job
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketJobs, jobID, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *BoltRepository) ListQueuedJobsForQueue(ctx context.Context, queueID string) ([]*types.Job, error) {
	var out []*types.Job
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.QueueID == queueID && j.Status == types.JobStatusQueued {
				out = append(out, &j)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *BoltRepository) MarkJobStarting(ctx context.Context, jobID, nodeID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		var j types.Job
		if err := getJSON(tx, bucketJobs, jobID, &j); err != nil {
			return err
		}
		j.Status = types.JobStatusStarting
		j.NodeID = nodeID
		j.UpdatedAt = time.Now()
		return putJSON(tx, bucketJobs, jobID, &j)
	})
}

func (r *BoltRepository) UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, exitCode int, message string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		var j types.Job
		if err := getJSON(tx, bucketJobs, jobID, &j); err != nil {
			return err
		}
		j.Status = status
		j.ExitCode = exitCode
		j.Message = message
		j.UpdatedAt = time.Now()
		if status == types.JobStatusSucceeded || status == types.JobStatusFailed || status == types.JobStatusCancelled {
			j.FinishedAt = time.Now()
		}
		return putJSON(tx, bucketJobs, jobID, &j)
	})
}

func (r *BoltRepository) RequeueJob(ctx context.Context, jobID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		var j types.Job
		if err := getJSON(tx, bucketJobs, jobID, &j); err != nil {
			return err
		}
		j.Status = types.JobStatusQueued
		j.UpdatedAt = time.Now()
		return putJSON(tx, bucketJobs, jobID, &j)
	})
}

// --- Nodes ---

func (r *BoltRepository) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	var n types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketNodes, nodeID, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *BoltRepository) ListClusterNodes(ctx context.Context, clusterID string) ([]*types.Node, error) {
	var out []*types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.ClusterID == clusterID {
				out = append(out, &n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BoltRepository) ListAllNodes(ctx context.Context) ([]*types.Node, error) {
	var out []*types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (r *BoltRepository) UpsertNodeHeartbeat(ctx context.Context, nodeID string, update HeartbeatUpdate) (*types.Node, error) {
	var n types.Node
	err := r.db.Update(func(tx *bolt.Tx) error {
		err := getJSON(tx, bucketNodes, nodeID, &n)
		if err != nil {
			n = types.Node{ID: nodeID, CreatedAt: time.Now()}
		}
		if update.ClusterID != "" {
			n.ClusterID = update.ClusterID
		}
		if update.Hostname != "" {
			n.Hostname = update.Hostname
		}
		if update.Status != "" {
			n.Status = update.Status
		}
		if update.CPU.Millicores != 0 {
			n.CPU = update.CPU
		}
		if update.GPU != nil {
			n.GPU = update.GPU
		}
		if update.Memory != 0 {
			n.Memory = update.Memory
		}
		if update.ReportedJobID != "" || n.AssignedJobID == "" {
			n.ReportedJobID = update.ReportedJobID
		}
		n.LastHeartbeat = update.Timestamp
		return putJSON(tx, bucketNodes, nodeID, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *BoltRepository) AssignJobToNode(ctx context.Context, nodeID, jobID string) (bool, error) {
	var claimed bool
	err := r.db.Update(func(tx *bolt.Tx) error {
		var n types.Node
		if err := getJSON(tx, bucketNodes, nodeID, &n); err != nil {
			return err
		}
		if n.AssignedJobID != "" {
			claimed = false
			return nil
		}
		n.AssignedJobID = jobID
		n.Status = types.NodeStatusBusy
		claimed = true
		return putJSON(tx, bucketNodes, nodeID, &n)
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *BoltRepository) ClearNodeAssignment(ctx context.Context, nodeID, jobID string) (bool, error) {
	var cleared bool
	err := r.db.Update(func(tx *bolt.Tx) error {
		var n types.Node
		if err := getJSON(tx, bucketNodes, nodeID, &n); err != nil {
			return err
		}
		if n.AssignedJobID != jobID {
			cleared = false
			return nil
		}
		n.AssignedJobID = ""
		n.ReportedJobID = ""
		n.Status = types.NodeStatusAvailable
		cleared = true
		return putJSON(tx, bucketNodes, nodeID, &n)
	})
	if err != nil {
		return false, err
	}
	return cleared, nil
}

// --- Clusters ---

func (r *BoltRepository) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketClusters, cluster.ID, cluster)
	})
}

func (r *BoltRepository) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	var c types.Cluster
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketClusters, clusterID, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ Repository = (*BoltRepository)(nil)
