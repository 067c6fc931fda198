// Package control implements the runtime core of the link: the shared
// parameter store, the periodic transmit scheduler, the command
// acknowledgment state machine and the Engine facade that binds them to a
// transport session from the link package.
//
// Typical usage:
//
//	eng, _ := control.NewEngine(ctx)
//	cfg, _ := link.NewTCPConfig("192.168.0.10", 5020)
//	if err := eng.Connect(cfg); err != nil { ... }
//	eng.SetParameter(protocol.SlotTargetSpeed, 1200)
//	eng.IssueCommand(5, "cycle start", false)
package control
