package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hutaofa/plclink/protocol"
)

func TestParameterStoreSetValue(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	require.NoError(ps.SetValue(protocol.SlotTargetSpeed, 1200))
	v, err := ps.Value(protocol.SlotTargetSpeed)
	require.NoError(err)
	require.Equal(uint16(1200), v)

	// Untouched slots stay zero.
	v, err = ps.Value(protocol.SlotPosX)
	require.NoError(err)
	require.Equal(uint16(0), v)
}

func TestParameterStoreSetValueRejectsBadSlots(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	require.ErrorIs(ps.SetValue(-1, 1), protocol.ErrInvalidSlot)
	require.ErrorIs(ps.SetValue(protocol.ControlSlotCount, 1), protocol.ErrInvalidSlot)
	require.ErrorIs(ps.SetValue(protocol.SlotCommand, 7), ErrCommandSlotReserved)

	_, err := ps.Value(-1)
	require.ErrorIs(err, protocol.ErrInvalidSlot)
	_, err = ps.Value(protocol.ControlSlotCount)
	require.ErrorIs(err, protocol.ErrInvalidSlot)
}

func TestParameterStoreFullRange(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	require.NoError(ps.SetValue(protocol.SlotOffloadForce, 0))
	require.NoError(ps.SetValue(protocol.SlotOffloadForce, 65535))

	v, err := ps.Value(protocol.SlotOffloadForce)
	require.NoError(err)
	require.Equal(uint16(65535), v)
}

func TestParameterStoreSnapshotIsCopy(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	require.NoError(ps.SetValue(protocol.SlotSpeedMode, 2))
	snap := ps.SnapshotForSend()

	require.NoError(ps.SetValue(protocol.SlotSpeedMode, 3))
	require.Equal(uint16(2), snap[protocol.SlotSpeedMode])

	snap2 := ps.SnapshotForSend()
	require.Equal(uint16(3), snap2[protocol.SlotSpeedMode])
}

func TestParameterStoreCommandRegister(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	require.Equal(uint16(0), ps.CommandRegister())
	ps.setCommand(12)
	require.Equal(uint16(12), ps.CommandRegister())

	snap := ps.SnapshotForSend()
	require.Equal(uint16(12), snap[protocol.SlotCommand])
}

func TestParameterStoreLatestStatus(t *testing.T) {
	require := require.New(t)
	ps := NewParameterStore()

	_, ok := ps.LatestStatus()
	require.False(ok)

	var snap protocol.StatusSnapshot
	snap.Words[protocol.WordActualSpeed] = 850
	snap.Flags[int(protocol.FlagPowerOn)] = true
	ps.updateStatus(snap)

	got, ok := ps.LatestStatus()
	require.True(ok)
	require.Equal(uint16(850), got.Words[protocol.WordActualSpeed])
	require.True(got.Flag(protocol.FlagPowerOn))
}

func TestParameterStoreConcurrentAccess(t *testing.T) {
	ps := NewParameterStore()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func(seed uint16) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = ps.SetValue(protocol.SlotPosY, seed+uint16(i))
			}
		}(uint16(g * 1000))
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = ps.SnapshotForSend()
				_, _ = ps.Value(protocol.SlotPosY)
			}
		}()
	}
	wg.Wait()
}
