// Package protocol implements the fixed-layout wire frames exchanged between
// the operator console and the PLC.
//
// Two frame shapes exist:
//
//   - Control frame (outbound, 32 bytes): 16 big-endian unsigned 16-bit
//     parameter values in slot order, with no header, padding, or checksum.
//   - Status frame (inbound, 26 bytes): 5 bytes of bit-packed boolean flags
//     (40 flags), one filler byte, then 10 big-endian unsigned 16-bit status
//     words. The word at EchoIndex carries the controller's echo of the last
//     command register value it observed.
//
// All encode/decode functions are stateless and allocation-bounded. Buffers
// of any length other than the exact frame size fail with ErrMalformedFrame;
// no partial decode is ever produced.
//
// The PLC vendor documentation does not pin down the bit order inside a flag
// byte, so the decoder makes it explicit: LSBFirst (the default, flag 0 in
// the least significant bit of byte 0) or MSBFirst via StatusDecoder.
package protocol
