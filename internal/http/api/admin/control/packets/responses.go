package packets

import (
	"encoding/json"
	"time"
)

type ActivePlaylistResponse struct {
	ScheduleID  int        `json:"schedule_id"`
	PlaylistID  int        `json:"playlist_id"`
	At          time.Time  `json:"at"`
	NextTrigger *time.Time `json:"next_trigger"`
}

type PowerStateResponse struct {
	PowerID     int        `json:"power_id"`
	Power       bool       `json:"power"`
	At          time.Time  `json:"at"`
	NextTrigger *time.Time `json:"next_trigger"`
}

type OccurrenceResponse struct {
	ItemID     int       `json:"item_id"`
	PlaylistID int       `json:"playlist_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type DisplayResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Hostname    string            `json:"hostname"`
	ScheduleID  *int              `json:"schedule_id"`
	PowerID     *int              `json:"power_id"`
	Enabled     bool              `json:"enabled"`
	Connected   *time.Time        `json:"connected"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Config      json.RawMessage   `json:"config,omitempty"`
	Sessions    []SessionResponse `json:"sessions"`
}

// SessionResponse is one live link of a display.
type SessionResponse struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

type PublishResponse struct {
	Message string `json:"message"`
}
