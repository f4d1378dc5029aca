package goosedto

import "time"

// Status is the server-reported lifecycle of a round.
type Status string

const (
	StatusCooldown Status = "cooldown"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Rank orders statuses so that a status can be checked for regression.
func (s Status) Rank() int {
	switch s {
	case StatusCooldown:
		return 1
	case StatusActive:
		return 2
	case StatusFinished:
		return 3
	default:
		return 0
	}
}

// GameConfig is round-independent; durations are in seconds.
type GameConfig struct {
	CooldownDuration int `json:"cooldownDuration"`
	RoundDuration    int `json:"roundDuration"`
}

// DefaultGameConfig is what the server uses when it does not say otherwise.
func DefaultGameConfig() GameConfig {
	return GameConfig{CooldownDuration: 30, RoundDuration: 60}
}

type Winner struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// Round is the full round info returned by GET /rounds/:id.
type Round struct {
	ID          string     `json:"id"`
	StartAt     time.Time  `json:"startAt"`
	EndAt       time.Time  `json:"endAt"`
	TotalPoints int        `json:"totalPoints"`
	Status      Status     `json:"status"`
	MyPoints    int        `json:"myPoints"`
	Winner      *Winner    `json:"winner"`
	Config      GameConfig `json:"config"`
}

// Clone returns a deep copy.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	return &c
}

// RoundListItem is the lighter projection used by GET /rounds.
type RoundListItem struct {
	ID          string    `json:"id"`
	StartAt     time.Time `json:"startAt"`
	EndAt       time.Time `json:"endAt"`
	TotalPoints int       `json:"totalPoints"`
	Status      Status    `json:"status"`
}

type RoundsPage struct {
	Items   []RoundListItem `json:"data"`
	HasMore bool            `json:"hasMore"`
	Config  GameConfig      `json:"config"`
}

// CreatedRound is the body of POST /rounds.
type CreatedRound struct {
	Data struct {
		ID      string    `json:"id"`
		StartAt time.Time `json:"startAt"`
		EndAt   time.Time `json:"endAt"`
	} `json:"data"`
	Config GameConfig `json:"config"`
}

type LeaderboardEntry struct {
	Place    int    `json:"place"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Taps     int    `json:"taps"`
	Points   int    `json:"points"`
}
