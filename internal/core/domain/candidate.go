package domain

import (
	"net"
	"strconv"
	"time"
)

type CandidateID string

// DiscoveryMethod records which strategy produced a candidate.
type DiscoveryMethod string

const (
	MethodPassive DiscoveryMethod = "passive"
	MethodActive  DiscoveryMethod = "active"
)

// DeviceTypeMarker is the value of the device_type field a receiver must
// advertise (and return from /status) to be classified as one of ours.
// An HTTP 200 without this marker is never a match.
const DeviceTypeMarker = "smarttv"

// Candidate is a discovered, not-yet-connected receiver device.
type Candidate struct {
	ID           CandidateID
	Name         string
	Address      string
	Port         int
	Capabilities []string
	Version      string
	Method       DiscoveryMethod
	LastSeen     time.Time
}

// Endpoint returns the host:port pair the candidate was discovered at.
func (c *Candidate) Endpoint() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// CandidateIdentity derives the stable identifier for a device: the
// advertised name when present, otherwise the address:port composite.
func CandidateIdentity(name, address string, port int) CandidateID {
	if name != "" {
		return CandidateID(name)
	}
	return CandidateID(net.JoinHostPort(address, strconv.Itoa(port)))
}
