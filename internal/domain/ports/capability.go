package ports

import "strings"

// Capability flags one optional engine operation.
type Capability uint32

const (
	CapPause Capability = 1 << iota
	CapResume
	CapSequential
	CapLimits
	CapSelection
	CapOptions
	CapTrackers
	CapWebSeeds
	CapReannounce
	CapMove
	CapRecheck
	CapPieceDeadline
	CapPeers
)

var capabilityNames = map[Capability]string{
	CapPause:         "pause",
	CapResume:        "resume",
	CapSequential:    "sequential",
	CapLimits:        "limits",
	CapSelection:     "selection",
	CapOptions:       "options",
	CapTrackers:      "trackers",
	CapWebSeeds:      "web_seeds",
	CapReannounce:    "reannounce",
	CapMove:          "move",
	CapRecheck:       "recheck",
	CapPieceDeadline: "piece_deadline",
	CapPeers:         "peers",
}

// CapabilitySet is a bitset of optional operations a backend supports. It is
// computed once at construction; probing with failing calls is never needed.
type CapabilitySet uint32

// NewCapabilitySet combines the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// With returns a copy of the set extended with the capability.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Names lists the contained capabilities in declaration order, for logs.
func (s CapabilitySet) Names() []string {
	var names []string
	for c := CapPause; c <= CapPeers; c <<= 1 {
		if s.Has(c) {
			names = append(names, capabilityNames[c])
		}
	}
	return names
}

func (s CapabilitySet) String() string {
	return strings.Join(s.Names(), ",")
}
