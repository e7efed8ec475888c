package vm

// FaultKind identifies why a script stopped making progress. Once FR holds a
// non-zero FaultKind, Step returns immediately until the host calls
// ClearFault.
type FaultKind uint32

const (
	// FaultNone means no fault is pending.
	FaultNone FaultKind = 0
	// FaultMath is division or modulo by zero.
	FaultMath FaultKind = 1
	// FaultStackHeapCollision is SP crossing HP.
	FaultStackHeapCollision FaultKind = 2
	// FaultBoundsCheck is an out-of-range memory, function, or library access.
	FaultBoundsCheck FaultKind = 3
	// FaultHeapError is an allocation that exceeded its limit or a corrupt cell.
	FaultHeapError FaultKind = 4
	// FaultVersionMismatch is an unrecognized version marker.
	FaultVersionMismatch FaultKind = 5
	// FaultMissingInventory is a library call referencing a missing asset.
	FaultMissingInventory FaultKind = 6
	// FaultSandbox is a host-asserted sandbox-limit violation.
	FaultSandbox FaultKind = 7
	// FaultChatOverrun is a host-asserted output-rate limit trip.
	FaultChatOverrun FaultKind = 8
	// FaultTooManyListens is a host-asserted listen-channel cap trip.
	FaultTooManyListens FaultKind = 9
	// FaultNestingLists is an attempt to put a list inside a list.
	FaultNestingLists FaultKind = 10
)

// faultMessages mirrors LSCRIPTRunTimeFaultStrings from the original
// interpreter so host-visible fault text doesn't drift from the source this
// was distilled from.
var faultMessages = map[FaultKind]string{
	FaultNone:               "invalid",
	FaultMath:               "Math Error",
	FaultStackHeapCollision: "Stack-Heap Collision",
	FaultBoundsCheck:        "Bounds Check Error",
	FaultHeapError:          "Heap Error",
	FaultVersionMismatch:    "Version Mismatch",
	FaultMissingInventory:   "Missing Inventory",
	FaultSandbox:            "Hit Sandbox Limit",
	FaultChatOverrun:        "Chat Overrun",
	FaultTooManyListens:     "Too Many Listens",
	FaultNestingLists:       "Lists may not contain lists",
}

// String returns the host-visible fault text for f.
func (f FaultKind) String() string {
	if s, ok := faultMessages[f]; ok {
		return s
	}
	return "invalid"
}
