package round

import (
	"sort"

	"github.com/park285/goose-tap-client/pkg/goosedto"
)

// Leaderboard holds the latest standings pushed for one round.
// Every accepted push replaces the whole table.
type Leaderboard struct {
	roundID string
	entries []goosedto.LeaderboardEntry
}

func NewLeaderboard(roundID string) *Leaderboard {
	return &Leaderboard{roundID: roundID}
}

// Apply installs p when it belongs to this round and reports whether it did.
func (l *Leaderboard) Apply(p goosedto.Leaderboard) bool {
	if p.ID != l.roundID {
		return false
	}
	entries := make([]goosedto.LeaderboardEntry, len(p.Entries))
	copy(entries, p.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Place < entries[j].Place })
	l.entries = entries
	return true
}

func (l *Leaderboard) Entries() []goosedto.LeaderboardEntry {
	out := make([]goosedto.LeaderboardEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
