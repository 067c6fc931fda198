package protocol

import "fmt"

// Flag identifies one of the 40 boolean status flags reported by the
// controller in the bit-packed block of a status frame.
type Flag uint8

// Status flags in wire order. Flag 0 lives in byte 0 of the flag block,
// flag 8 in byte 1, and so on; the position within a byte depends on the
// configured BitOrder.
const (
	FlagPowerOn Flag = iota
	FlagServoReady
	FlagRunning
	FlagPaused
	FlagAlarm
	FlagEStop
	FlagHoming
	FlagHomed

	FlagMoving
	FlagAtTarget
	FlagJogXPos
	FlagJogXNeg
	FlagJogYPos
	FlagJogYNeg
	FlagJogZPos
	FlagJogZNeg

	FlagLimitXPos
	FlagLimitXNeg
	FlagLimitYPos
	FlagLimitYNeg
	FlagLimitZPos
	FlagLimitZNeg
	FlagBrakeEngaged
	FlagDoorClosed

	FlagAirPressureOK
	FlagLoadCellValid
	FlagTensionStable
	FlagOffloadActive
	FlagDriveFaultX
	FlagDriveFaultY
	FlagDriveFaultZ
	FlagOverTravel

	FlagOverload
	FlagUnderload
	FlagCommsOK
	FlagRemoteMode
	FlagMaintenanceMode
	FlagReserved37
	FlagReserved38
	FlagReserved39
)

var flagNames = [StatusFlagCount]string{
	"power-on", "servo-ready", "running", "paused",
	"alarm", "e-stop", "homing", "homed",
	"moving", "at-target", "jog-x-pos", "jog-x-neg",
	"jog-y-pos", "jog-y-neg", "jog-z-pos", "jog-z-neg",
	"limit-x-pos", "limit-x-neg", "limit-y-pos", "limit-y-neg",
	"limit-z-pos", "limit-z-neg", "brake-engaged", "door-closed",
	"air-pressure-ok", "load-cell-valid", "tension-stable", "offload-active",
	"drive-fault-x", "drive-fault-y", "drive-fault-z", "over-travel",
	"overload", "underload", "comms-ok", "remote-mode",
	"maintenance-mode", "reserved-37", "reserved-38", "reserved-39",
}

// String returns the symbolic name of the flag.
func (f Flag) String() string {
	if int(f) < len(flagNames) {
		return flagNames[f]
	}
	return fmt.Sprintf("flag-%d", uint8(f))
}
