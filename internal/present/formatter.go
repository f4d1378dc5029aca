package present

import (
	"strings"
	"time"

	"github.com/park285/goose-tap-client/internal/msgcat"
	"github.com/park285/goose-tap-client/internal/round"
	"github.com/park285/goose-tap-client/internal/roundlist"
	"github.com/park285/goose-tap-client/pkg/goosedto"
)

const timeLayout = "2006-01-02 15:04:05"

// Formatter renders round and list state into plain text using the message catalog.
type Formatter struct {
	cat *msgcat.Catalog
	loc *time.Location
}

func NewFormatter(cat *msgcat.Catalog, loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{cat: cat, loc: loc}
}

// Round renders one view. The countdown follows the local phase; the result
// block only appears once the server reports the round finished.
func (f *Formatter) Round(s round.State) []string {
	if !s.Loaded() {
		if s.LoadError != "" {
			return []string{f.cat.Text("round.load_error", map[string]any{"Message": s.LoadError})}
		}
		return []string{f.cat.Text("round.loading", nil)}
	}
	r := s.Round
	lines := []string{f.cat.Text("round.status."+string(s.Phase), nil)}
	if label := f.Countdown(s.Phase, s.Remaining); label != "" {
		lines = append(lines, label)
	}
	lines = append(lines, f.cat.Text("round.my_points", map[string]any{"Points": r.MyPoints}))
	if s.Phase == round.PhaseActive {
		lines = append(lines, f.cat.Text("round.hint_active", nil))
	}
	if s.ShowResult() {
		lines = append(lines,
			f.cat.Text("round.result.header", nil),
			f.cat.Text("round.result.total", map[string]any{"Points": r.TotalPoints}),
			f.cat.Text("round.result.mine", map[string]any{"Points": r.MyPoints}),
		)
		if w := r.Winner; w != nil {
			lines = append(lines, f.cat.Text("round.result.winner", map[string]any{"Username": w.Username, "Points": w.Points}))
		}
	}
	if len(s.Leaderboard) > 0 {
		lines = append(lines, f.cat.Text("round.leaderboard.header", nil))
		for _, e := range s.Leaderboard {
			lines = append(lines, f.cat.Text("round.leaderboard.row", e))
		}
	}
	if s.TapError != "" {
		lines = append(lines, f.cat.Text("round.tap_error", map[string]any{"Message": s.TapError}))
	}
	return lines
}

// Countdown is empty once the round is finished.
func (f *Formatter) Countdown(p round.Phase, remaining time.Duration) string {
	if p != round.PhaseCooldown && p != round.PhaseActive {
		return ""
	}
	return f.cat.Text("round.countdown."+string(p), map[string]any{"Remaining": round.FormatRemaining(remaining)})
}

func (f *Formatter) List(s roundlist.Snapshot) []string {
	if len(s.Items) == 0 {
		return []string{f.cat.Text("list.empty", nil)}
	}
	lines := make([]string, 0, len(s.Items)+1)
	for _, it := range s.Items {
		lines = append(lines, f.cat.Text("list.item", map[string]any{
			"ID":          it.ID,
			"Status":      it.Status,
			"StartAt":     it.StartAt.In(f.loc).Format(timeLayout),
			"EndAt":       it.EndAt.In(f.loc).Format(timeLayout),
			"TotalPoints": it.TotalPoints,
		}))
	}
	if s.HasMore {
		lines = append(lines, f.cat.Text("list.more", nil))
	}
	return lines
}

func (f *Formatter) Welcome(u *goosedto.User) string {
	if u == nil {
		return f.cat.Text("session.anonymous", nil)
	}
	return f.cat.Text("session.welcome", map[string]any{"Username": u.Username, "Role": u.Role})
}

// Block joins lines the way the bot logs them.
func Block(lines []string) string { return strings.Join(lines, "\n") }
