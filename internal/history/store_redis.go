package history

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ttlResult  = 7 * 24 * time.Hour
	maxIndexed = 500
)

// Store keeps recent results in Redis: one JSON value per round plus an index
// sorted by round end time.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// NewStoreFromURL parses a redis:// URL and pings the server.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) keyResult(roundID string) string { return "goose:result:" + strings.TrimSpace(roundID) }
func (s *Store) keyIndex() string                { return "goose:results" }

func (s *Store) Save(ctx context.Context, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyResult(res.RoundID), raw, ttlResult)
	pipe.ZAdd(ctx, s.keyIndex(), redis.Z{Score: float64(res.EndAt.UnixMilli()), Member: res.RoundID})
	// keep only the newest entries in the index
	pipe.ZRemRangeByRank(ctx, s.keyIndex(), 0, -maxIndexed-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns nil without error when the round was never recorded or has expired.
func (s *Store) Load(ctx context.Context, roundID string) (*Result, error) {
	raw, err := s.rdb.Get(ctx, s.keyResult(roundID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Exists(ctx context.Context, roundID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keyResult(roundID)).Result()
	return n > 0, err
}

// Recent returns up to n results, newest round first. Expired entries are skipped.
func (s *Store) Recent(ctx context.Context, n int) ([]Result, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.ZRevRange(ctx, s.keyIndex(), 0, int64(n-1)).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyResult(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Result
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
