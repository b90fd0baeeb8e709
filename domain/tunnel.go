package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction names one half of a tunnel pair.
type Direction string

const (
	ClientToUpstream Direction = "client->upstream"
	UpstreamToClient Direction = "upstream->client"
)

// TunnelStats summarizes a finished tunnel pair.
// Counts of the losing direction are read when the pair terminates and may still be growing.
type TunnelStats struct {
	ID       uuid.UUID
	Client   string
	Upstream string
	Sent     int64 // client -> upstream
	Received int64 // upstream -> client
	Winner   Direction
	Err      error
	Started  time.Time
	Duration time.Duration
}
