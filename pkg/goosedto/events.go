package goosedto

import (
	"encoding/json"
	"time"
)

// EventKind names a push-channel event, in either direction.
type EventKind string

// Server to client.
const (
	EventRoundUpdate   EventKind = "round_update"
	EventRoundFinished EventKind = "round_finished"
	EventUserTap       EventKind = "user_tap"
	EventTapResult     EventKind = "tap_result"
	EventLeaderboard   EventKind = "leaderboard"
)

// Client to server. The leaderboard request shares its name with the reply.
const (
	ActionJoinRound   EventKind = "join_round"
	ActionLeaveRound  EventKind = "leave_round"
	ActionTap         EventKind = "tap"
	ActionLeaderboard EventKind = "leaderboard"
)

// Frame is one JSON text message on the push connection.
type Frame struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of every client action.
type RoomRequest struct {
	RoundID string `json:"roundId"`
}

// Stamp is the ordering metadata carried by server payloads.
// Seq is optional; servers that emit it guarantee it is monotonic per connection.
type Stamp struct {
	Timestamp string `json:"timestamp"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Time parses Timestamp. ok is false when it is missing or malformed.
func (s Stamp) Time() (time.Time, bool) {
	if s.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RoundUpdate is a partial round: nil fields were absent from the push.
type RoundUpdate struct {
	Stamp
	ID          string     `json:"id"`
	StartAt     *time.Time `json:"startAt,omitempty"`
	EndAt       *time.Time `json:"endAt,omitempty"`
	TotalPoints *int       `json:"totalPoints,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

type RoundFinished struct {
	Stamp
	ID          string  `json:"id"`
	TotalPoints *int    `json:"totalPoints,omitempty"`
	Winner      *Winner `json:"winner"`
}

type UserTap struct {
	Stamp
	UserID   string `json:"userId"`
	MyPoints int    `json:"myPoints"`
}

// TapResult answers one tap. The server does not name the round; the push
// channel fills RoundID from the order in which taps were sent.
type TapResult struct {
	Stamp
	RoundID  string `json:"roundId,omitempty"`
	Success  bool   `json:"success"`
	MyPoints *int   `json:"myPoints,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Leaderboard struct {
	Stamp
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	TotalPoints int                `json:"totalPoints"`
	Entries     []LeaderboardEntry `json:"leaderboard"`
}
