package domain

// PresenceStatus is the advertised availability of an identity.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is sent to the signaling server so it can route incoming-call
// notifications. SessionRef carries the transport identifier of the live
// push channel, when one exists. Not persisted beyond process lifetime.
type Presence struct {
	Identity   string
	Status     PresenceStatus
	SessionRef string
}
