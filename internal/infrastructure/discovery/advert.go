package discovery

// Advertisement is the UDP broadcast payload (JSON encoded) a receiver sends
// to announce itself and to withdraw on shutdown. Stay well under one MTU.
type Advertisement struct {
	Type         string   `json:"type"` // "announce" or "withdraw"
	Name         string   `json:"name"`
	DeviceType   string   `json:"device_type"`
	Port         int      `json:"port"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
	Timestamp    int64    `json:"ts"`
}

const (
	advertAnnounce = "announce"
	advertWithdraw = "withdraw"

	// maxAdvertSize bounds UDP reads; announcements are small JSON documents.
	maxAdvertSize = 1024
)
