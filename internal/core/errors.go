// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, one per error kind in §7 plus the data-model errors the
// table and cache surface. Callers compare with errors.Is.
var (
	// Service-disabled / availability
	ErrNotEnabled = errors.New("gk: service not enabled for requested family")

	// Mailbox (C1)
	ErrMailboxFull = errors.New("gk: mailbox full")

	// GK flow table (C5)
	ErrTableFull    = errors.New("gk: flow table full")
	ErrFlowNotFound = errors.New("gk: flow not found")

	// Packet view (C2)
	ErrParse = errors.New("gk: unrecognized L2/L3 frame")

	// GK state machine (C6) / policy intake (C7)
	ErrBadState           = errors.New("gk: flow entry in invalid state")
	ErrUnknownPolicyState = errors.New("gk: unknown policy state")

	// NIC transmit (C8 / nic)
	ErrTxFailure = errors.New("gk: NIC transmit queue rejected frame")

	// Configuration
	ErrConfigInvalid = errors.New("gk: invalid configuration")
)
