// Package executor ships the development executor. It fakes the
// infrastructure layer with an in-memory node table so the orchestrator, the
// worker pool, and the HTTP surface can run end to end without a hypervisor.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwerk/cloudpod/domains/pods/be/service"
)

// Stub is an in-memory Executor. Failure injection fields let tests drive the
// retry and compensation paths; they apply to every call of that kind until
// cleared.
type Stub struct {
	mu    sync.Mutex
	nodes map[string]service.ResourceSpec

	FailCreate  error
	FailDestroy error
	FailBackup  error
	FailScale   error
	FailHealth  error

	// Latency, when non-zero, delays every call. Useful for exercising the
	// destroy-during-provisioning race in tests.
	Latency time.Duration
}

// NewStub constructs a Stub with no nodes.
func NewStub() *Stub {
	return &Stub{nodes: make(map[string]service.ResourceSpec)}
}

func (s *Stub) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stub) Create(ctx context.Context, spec service.ResourceSpec) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return "", s.FailCreate
	}
	handle := "node-" + uuid.NewString()
	s.nodes[handle] = spec
	return handle, nil
}

func (s *Stub) Destroy(ctx context.Context, handle string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDestroy != nil {
		return s.FailDestroy
	}
	// An empty handle means the node was never provisioned; nothing to tear
	// down. Destroying an unknown handle is likewise a no-op so redeliveries
	// stay harmless.
	delete(s.nodes, handle)
	return nil
}

func (s *Stub) Backup(ctx context.Context, handle string, mode string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBackup != nil {
		return "", s.FailBackup
	}
	if _, ok := s.nodes[handle]; !ok {
		return "", fmt.Errorf("backup: unknown handle %q", handle)
	}
	return fmt.Sprintf("backup/%s/%s-%d", handle, mode, time.Now().UTC().Unix()), nil
}

func (s *Stub) Scale(ctx context.Context, handle string, spec service.ResourceSpec) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailScale != nil {
		return s.FailScale
	}
	if _, ok := s.nodes[handle]; !ok {
		return fmt.Errorf("scale: unknown handle %q", handle)
	}
	s.nodes[handle] = spec
	return nil
}

func (s *Stub) Health(ctx context.Context, handle string) (service.HealthSnapshot, error) {
	if err := s.wait(ctx); err != nil {
		return service.HealthSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailHealth != nil {
		return service.HealthSnapshot{}, s.FailHealth
	}
	state := "healthy"
	if _, ok := s.nodes[handle]; !ok {
		state = "unknown"
	}
	return service.HealthSnapshot{State: state, CheckedAt: time.Now().UTC()}, nil
}

// NodeCount reports how many fake nodes are currently provisioned.
func (s *Stub) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// HasNode reports whether the handle is currently provisioned.
func (s *Stub) HasNode(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[handle]
	return ok
}

var _ service.Executor = (*Stub)(nil)
