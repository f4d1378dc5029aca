package history

import (
	"time"

	"github.com/park285/goose-tap-client/pkg/goosedto"
)

// Result is what the bot keeps about a finished round.
type Result struct {
	RoundID      string    `json:"roundId"`
	StartAt      time.Time `json:"startAt"`
	EndAt        time.Time `json:"endAt"`
	TotalPoints  int       `json:"totalPoints"`
	MyPoints     int       `json:"myPoints"`
	Username     string    `json:"username"`
	Winner       string    `json:"winner,omitempty"`
	WinnerPoints int       `json:"winnerPoints,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

func FromRound(r *goosedto.Round, username string, now time.Time) Result {
	res := Result{
		RoundID:     r.ID,
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		TotalPoints: r.TotalPoints,
		MyPoints:    r.MyPoints,
		Username:    username,
		RecordedAt:  now,
	}
	if r.Winner != nil {
		res.Winner = r.Winner.Username
		res.WinnerPoints = r.Winner.Points
	}
	return res
}
