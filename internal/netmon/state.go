package netmon

// Reachability describes whether the wider internet is reachable beyond
// the local link. Captive portals and dead uplinks make this a tri-state:
// a device can be associated to a network without being online.
type Reachability int

const (
	// ReachabilityUnknown means the signal source could not determine
	// internet reachability.
	ReachabilityUnknown Reachability = iota

	// ReachabilityReachable means the backend (or a reference host) was
	// reachable at the last observation.
	ReachabilityReachable

	// ReachabilityUnreachable means the network is up but the internet
	// is not reachable through it.
	ReachabilityUnreachable
)

// String returns a human-readable representation of the reachability.
func (r Reachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// State is a snapshot of device connectivity.
type State struct {
	// Connected reports whether a network interface is up and associated.
	Connected bool

	// InternetReachable reports whether traffic actually gets out.
	InternetReachable Reachability
}

// Online reports whether the device can usefully talk to the backend:
// connected with confirmed internet reachability.
func (s State) Online() bool {
	return s.Connected && s.InternetReachable == ReachabilityReachable
}

// String returns a compact representation for logs.
func (s State) String() string {
	if !s.Connected {
		return "offline"
	}
	return "connected/" + s.InternetReachable.String()
}
