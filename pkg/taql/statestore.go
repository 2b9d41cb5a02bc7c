package taql

import "github.com/laakhay/ta-go/pkg/taql/registry"

// SnapshotSchemaVersion tags snapshots; Restore rejects any other version.
const SnapshotSchemaVersion = 1

// KernelState is the per-node execution state of the incremental backend.
// Algorithm holds the kernel's own state; the surrounding bookkeeping is
// shared by every node kind.
type KernelState struct {
	Algorithm      registry.State
	TicksProcessed int64
	LastValue      float64
	HasLast        bool
	// IsValid flips once the node has produced its first ready value.
	IsValid bool
	// History is a bounded buffer of recent outputs, sized from the plan's
	// lookback for nodes that need to look behind themselves.
	History []float64
}

func (s *KernelState) clone() *KernelState {
	cp := &KernelState{
		TicksProcessed: s.TicksProcessed,
		LastValue:      s.LastValue,
		HasLast:        s.HasLast,
		IsValid:        s.IsValid,
	}
	if s.Algorithm != nil {
		cp.Algorithm = s.Algorithm.Clone()
	}
	if s.History != nil {
		cp.History = append([]float64(nil), s.History...)
	}
	return cp
}

// pushHistory appends v, evicting the oldest entry beyond cap limit.
func (s *KernelState) pushHistory(v float64, limit int) {
	s.History = append(s.History, v)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// StateStore owns all kernel states of one incremental session plus the
// replay cursor. It is not safe for concurrent use; the evaluator serializes
// access.
type StateStore struct {
	lastEventIndex int64
	states         map[NodeID]*KernelState
}

func NewStateStore() *StateStore {
	return &StateStore{lastEventIndex: -1, states: map[NodeID]*KernelState{}}
}

func (st *StateStore) get(id NodeID) *KernelState {
	ks, ok := st.states[id]
	if !ok {
		ks = &KernelState{}
		st.states[id] = ks
	}
	return ks
}

// LastEventIndex is the index of the newest event already applied, -1 before
// any.
func (st *StateStore) LastEventIndex() int64 { return st.lastEventIndex }

// StateSnapshot is a deep, versioned copy of a StateStore. Snapshots taken
// from a store are independent of its later mutations.
type StateSnapshot struct {
	SchemaVersion  int
	LastEventIndex int64
	States         map[NodeID]*KernelState
}

// Snapshot deep-copies the store.
func (st *StateStore) Snapshot() *StateSnapshot {
	states := make(map[NodeID]*KernelState, len(st.states))
	for id, ks := range st.states {
		states[id] = ks.clone()
	}
	return &StateSnapshot{
		SchemaVersion:  SnapshotSchemaVersion,
		LastEventIndex: st.lastEventIndex,
		States:         states,
	}
}

// Restore replaces the store's contents with a deep copy of the snapshot.
// A snapshot with a foreign schema version is rejected and the store is left
// unchanged.
func (st *StateStore) Restore(snap *StateSnapshot) error {
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return &SnapshotSchemaError{Want: SnapshotSchemaVersion, Got: snap.SchemaVersion}
	}
	states := make(map[NodeID]*KernelState, len(snap.States))
	for id, ks := range snap.States {
		states[id] = ks.clone()
	}
	st.states = states
	st.lastEventIndex = snap.LastEventIndex
	return nil
}
