package control

import (
	"sync"
	"sync/atomic"

	"github.com/hutaofa/plclink/protocol"
)

// ParameterStore holds the live outbound parameter vector and the most
// recently decoded inbound status snapshot.
//
// It is the single shared mutable resource between the operator-input context
// and the scheduler tick: writes and snapshot reads are made safe with a
// read-write lock plus copy-on-read, so a tick never observes a torn update.
// The status snapshot is replaced atomically and wholesale; the previous
// snapshot remains valid to readers holding it.
type ParameterStore struct {
	mu     sync.RWMutex
	values protocol.ParameterVector
	status atomic.Pointer[protocol.StatusSnapshot]
}

// NewParameterStore creates a ParameterStore with all parameters zero and no
// status received yet.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{}
}

// SetValue sets one parameter slot. The slot must be in [0, ControlSlotCount)
// and must not be the command register, which only the command engine writes.
// Values are unsigned 16-bit by type, so the full 0..65535 range is valid.
func (ps *ParameterStore) SetValue(slot int, value uint16) error {
	if slot < 0 || slot >= protocol.ControlSlotCount {
		return protocol.ErrInvalidSlot
	}
	if slot == protocol.SlotCommand {
		return ErrCommandSlotReserved
	}

	ps.mu.Lock()
	ps.values[slot] = value
	ps.mu.Unlock()

	return nil
}

// Value returns the current value of one parameter slot.
func (ps *ParameterStore) Value(slot int) (uint16, error) {
	if slot < 0 || slot >= protocol.ControlSlotCount {
		return 0, protocol.ErrInvalidSlot
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.values[slot], nil
}

// SnapshotForSend returns a copy of the parameter vector that is safe to
// encode without racing further mutation.
func (ps *ParameterStore) SnapshotForSend() protocol.ParameterVector {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.values
}

// setCommand writes the command register. Only the command engine calls it.
func (ps *ParameterStore) setCommand(value uint16) {
	ps.mu.Lock()
	ps.values[protocol.SlotCommand] = value
	ps.mu.Unlock()
}

// CommandRegister returns the current value of the command register.
func (ps *ParameterStore) CommandRegister() uint16 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.values[protocol.SlotCommand]
}

// LatestStatus returns the most recent status snapshot, or ok=false before
// the first successful decode.
func (ps *ParameterStore) LatestStatus() (protocol.StatusSnapshot, bool) {
	if snap := ps.status.Load(); snap != nil {
		return *snap, true
	}
	return protocol.StatusSnapshot{}, false
}

// updateStatus replaces the status snapshot wholesale.
func (ps *ParameterStore) updateStatus(snap protocol.StatusSnapshot) {
	ps.status.Store(&snap)
}
