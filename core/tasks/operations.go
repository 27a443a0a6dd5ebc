package tasks

import (
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

// OperationState is the lifecycle of one async operation.
type OperationState string

const (
	OperationPending OperationState = "pending"
	OperationRunning OperationState = "running"
	OperationDone    OperationState = "done"
	OperationFailed  OperationState = "failed"
)

// Operation is the queryable status of an asynchronous retain.
type Operation struct {
	ID        string
	State     OperationState
	UnitIDs   []string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Operations is an in-memory registry of async operations, owned by the
// engine value.
type Operations struct {
	mu  sync.RWMutex
	ops map[string]*Operation
	now func() time.Time
}

// NewOperations creates an empty registry.
func NewOperations() *Operations {
	return &Operations{ops: make(map[string]*Operation), now: time.Now}
}

// Create registers a new pending operation and returns its id.
func (o *Operations) Create() string {
	id := uuid.NewString()
	now := o.now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[id] = &Operation{ID: id, State: OperationPending, CreatedAt: now, UpdatedAt: now}
	return id
}

// SetRunning transitions an operation to running.
func (o *Operations) SetRunning(id string) {
	o.transition(id, func(op *Operation) {
		op.State = OperationRunning
	})
}

// Complete records success with the created unit ids.
func (o *Operations) Complete(id string, unitIDs []string) {
	o.transition(id, func(op *Operation) {
		op.State = OperationDone
		op.UnitIDs = unitIDs
	})
}

// Fail records failure.
func (o *Operations) Fail(id string, err error) {
	o.transition(id, func(op *Operation) {
		op.State = OperationFailed
		if err != nil {
			op.Error = err.Error()
		}
	})
}

func (o *Operations) transition(id string, apply func(*Operation)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op, ok := o.ops[id]; ok {
		apply(op)
		op.UpdatedAt = o.now().UTC()
	}
}

// Get returns a snapshot of an operation's status.
func (o *Operations) Get(id string) (Operation, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	op, ok := o.ops[id]
	if !ok {
		return Operation{}, coreerrors.NotFoundf("operation %q", id)
	}
	snapshot := *op
	snapshot.UnitIDs = append([]string(nil), op.UnitIDs...)
	return snapshot, nil
}
