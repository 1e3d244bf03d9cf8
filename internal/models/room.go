package models

import "time"

// RoomMetadata describes a room as seen by the relay
type RoomMetadata struct {
	ID          string     `json:"id"`
	MemberCount int        `json:"memberCount"`
	FirstSeenAt *time.Time `json:"firstSeenAt,omitempty"` // from the presence store, when enabled
}

// RoomList is the admin view of every live room
type RoomList struct {
	Rooms []RoomMetadata `json:"rooms"`
}
