package history

import (
	"context"
	"errors"

	"github.com/park285/goose-tap-client/internal/obslog"
	"go.uber.org/zap"
)

// Recorder writes a result to whichever backends are configured.
// Either backend may be nil.
type Recorder struct {
	store *Store
	repo  *Repository
}

func NewRecorder(store *Store, repo *Repository) *Recorder {
	return &Recorder{store: store, repo: repo}
}

// Record saves res once. It reports false when the store already had it.
func (r *Recorder) Record(ctx context.Context, res Result) (bool, error) {
	if r == nil {
		return false, nil
	}
	if r.store != nil {
		seen, err := r.store.Exists(ctx, res.RoundID)
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}

	var errs []error
	if r.store != nil {
		if err := r.store.Save(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.repo.SaveResult(ctx, res); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return false, err
	}
	obslog.L().Info("round_result_recorded",
		zap.String("round_id", res.RoundID),
		zap.Int("total_points", res.TotalPoints),
		zap.Int("my_points", res.MyPoints),
		zap.String("winner", res.Winner),
	)
	return true, nil
}

// Recent reads from the hot store; without one there is no history.
func (r *Recorder) Recent(ctx context.Context, n int) ([]Result, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	return r.store.Recent(ctx, n)
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.store.Close(), r.repo.Close())
}
