package segment

import "time"

// Status is a point-in-time view of an engine.
type Status struct {
	Mode           Mode
	ActiveSpeakers int
	Speakers       []SpeakerStatus
	Config         Config
}

// SpeakerStatus describes one speaker session.
type SpeakerStatus struct {
	SpeakerID      string
	BufferDuration time.Duration
	LastPacketAgo  time.Duration
	Chunks         int
	Processing     bool
	PendingTimer   bool
}
