package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame layout constants.
const (
	// ControlFrameSize is the byte length of one outbound control frame.
	ControlFrameSize = 32
	// ControlSlotCount is the number of 16-bit parameter slots in a control frame.
	ControlSlotCount = 16

	// StatusFrameSize is the byte length of one inbound status frame.
	StatusFrameSize = 26
	// StatusFlagCount is the number of boolean flags in the bit-packed block.
	StatusFlagCount = 40
	// StatusWordCount is the number of 16-bit status words following the flag block.
	StatusWordCount = 10
	// EchoIndex is the status word reserved for the controller's echo of the
	// command register.
	EchoIndex = 0

	statusFlagBytes  = 5
	statusWordOffset = 6 // 5 flag bytes + 1 filler byte
)

// Control frame parameter slots. SlotCommand is reserved for the
// command/acknowledgment handshake and must never be written by generic
// parameter edits.
const (
	SlotSpeedMode = iota
	SlotTargetSpeed
	SlotPosX
	SlotPosY
	SlotPosZ
	SlotOpMode
	SlotJogStep
	SlotAccelRamp
	SlotDecelRamp
	SlotOffloadForce
	SlotReserved10
	SlotReserved11
	SlotReserved12
	SlotReserved13
	SlotReserved14
	SlotCommand = ControlSlotCount - 1
)

// Status words following the flag block.
const (
	WordCommandEcho = EchoIndex
	WordActualSpeed = iota
	WordPosX
	WordPosY
	WordPosZ
	WordLoadCell
	WordAlarmCode
	WordOpMode
	WordReserved8
	WordReserved9
)

// ParameterVector is the ordered set of 16 parameter values carried by one
// control frame. Values are unsigned 16-bit by construction, so the 0..65535
// range is enforced by the type and encoding is total.
type ParameterVector [ControlSlotCount]uint16

// BitOrder selects how the 8 flags inside one flag byte map to bit positions.
type BitOrder uint8

const (
	// LSBFirst places flag 8*n in the least significant bit of byte n.
	// This is the default convention.
	LSBFirst BitOrder = iota
	// MSBFirst places flag 8*n in the most significant bit of byte n.
	MSBFirst
)

// String returns the symbolic name of the bit order.
func (o BitOrder) String() string {
	switch o {
	case LSBFirst:
		return "lsb-first"
	case MSBFirst:
		return "msb-first"
	default:
		return fmt.Sprintf("bit-order-%d", uint8(o))
	}
}

// StatusSnapshot is the immutable value decoded from one inbound status
// frame. It is replaced wholesale on every successful decode and never
// partially updated; treat a decoded snapshot as read-only.
type StatusSnapshot struct {
	// Flags holds the 40 boolean flags in wire order.
	Flags [StatusFlagCount]bool
	// Words holds the 10 status words in wire order.
	Words [StatusWordCount]uint16
}

// Flag reports the value of flag f. Out-of-range flags are false.
func (s StatusSnapshot) Flag(f Flag) bool {
	if int(f) >= StatusFlagCount {
		return false
	}
	return s.Flags[f]
}

// Echo returns the controller's echo of the command register.
func (s StatusSnapshot) Echo() uint16 {
	return s.Words[EchoIndex]
}

// EncodeControl encodes a ParameterVector into a 32-byte control frame,
// big-endian per slot, in slot order.
func EncodeControl(vec ParameterVector) []byte {
	buf := make([]byte, ControlFrameSize)
	for i, v := range vec {
		binary.BigEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// DecodeControl decodes a 32-byte control frame back into a ParameterVector.
// It is the reverse of EncodeControl; production receives only status frames,
// but the reverse codec serves codec symmetry tests and controller
// simulators.
func DecodeControl(buf []byte) (ParameterVector, error) {
	var vec ParameterVector
	if len(buf) != ControlFrameSize {
		return vec, fmt.Errorf("%w: control frame is %d bytes, want %d", ErrMalformedFrame, len(buf), ControlFrameSize)
	}
	for i := range vec {
		vec[i] = binary.BigEndian.Uint16(buf[i*2:])
	}
	return vec, nil
}

// StatusDecoder decodes inbound status frames using a fixed flag bit order.
// The zero value decodes with the LSBFirst convention.
type StatusDecoder struct {
	BitOrder BitOrder
}

// Decode decodes a 26-byte status frame into a StatusSnapshot.
// Buffers of any other length fail with ErrMalformedFrame and produce no
// partial snapshot. Byte 5 of the frame is filler and is ignored.
func (d StatusDecoder) Decode(buf []byte) (StatusSnapshot, error) {
	var snap StatusSnapshot

	if len(buf) != StatusFrameSize {
		return snap, fmt.Errorf("%w: status frame is %d bytes, want %d", ErrMalformedFrame, len(buf), StatusFrameSize)
	}

	for i := 0; i < StatusFlagCount; i++ {
		b := buf[i/8]
		var mask byte
		switch d.BitOrder {
		case MSBFirst:
			mask = 1 << (7 - i%8)
		default:
			mask = 1 << (i % 8)
		}
		snap.Flags[i] = b&mask != 0
	}

	for i := 0; i < StatusWordCount; i++ {
		snap.Words[i] = binary.BigEndian.Uint16(buf[statusWordOffset+i*2:])
	}

	return snap, nil
}

// DecodeStatus decodes a status frame with the default LSBFirst bit order.
func DecodeStatus(buf []byte) (StatusSnapshot, error) {
	return StatusDecoder{}.Decode(buf)
}

// EncodeStatus encodes a StatusSnapshot into a 26-byte status frame using the
// given bit order. The filler byte is written as zero. It is the reverse of
// StatusDecoder.Decode and serves tests and controller simulators.
func EncodeStatus(snap StatusSnapshot, order BitOrder) []byte {
	buf := make([]byte, StatusFrameSize)

	for i := 0; i < StatusFlagCount; i++ {
		if !snap.Flags[i] {
			continue
		}
		var mask byte
		switch order {
		case MSBFirst:
			mask = 1 << (7 - i%8)
		default:
			mask = 1 << (i % 8)
		}
		buf[i/8] |= mask
	}

	for i := 0; i < StatusWordCount; i++ {
		binary.BigEndian.PutUint16(buf[statusWordOffset+i*2:], snap.Words[i])
	}

	return buf
}
