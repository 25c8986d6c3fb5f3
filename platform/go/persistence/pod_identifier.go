package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PodIDSequence is the sequence backing internal pod identifiers.
const PodIDSequence = "orchestrator.pod_numeric_id_seq"

// maxIDAllocAttempts bounds the defensive retry loop. Collisions only occur
// when an identifier was bound out-of-band via an explicit-identifier import.
const maxIDAllocAttempts = 10

// ErrIDAllocExhausted is returned when every candidate identifier was taken.
var ErrIDAllocExhausted = errors.New("pod identifier allocation exhausted retries")

// PodIDAllocator issues collision-free internal identifiers for new pods.
// The sequence guarantees monotonicity and no reuse under concurrent callers;
// the existence check guards against identifiers bound by explicit imports.
type PodIDAllocator struct {
	pool *pgxpool.Pool
	pods *PodStore
}

// NewPodIDAllocator creates an allocator over the shared pool.
func NewPodIDAllocator(pool *pgxpool.Pool, pods *PodStore) (*PodIDAllocator, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if pods == nil {
		return nil, errors.New("pod store is required")
	}
	return &PodIDAllocator{pool: pool, pods: pods}, nil
}

// NextID returns the next free internal identifier. Two simultaneous callers
// never receive the same value: nextval is atomic and sequence values are
// never handed out twice.
func (a *PodIDAllocator) NextID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT nextval('%s')", PodIDSequence)

	for attempt := 0; attempt < maxIDAllocAttempts; attempt++ {
		var candidate int64
		if err := a.pool.QueryRow(ctx, query).Scan(&candidate); err != nil {
			return 0, fmt.Errorf("advance pod id sequence: %w", err)
		}

		taken, err := a.pods.NumericIDExists(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if !taken {
			return candidate, nil
		}
	}

	return 0, ErrIDAllocExhausted
}
