package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

const (
	keyPrefix = "analysis:"

	// maxTxRetries bounds optimistic-lock retries when a watched key changes
	// between read and write.
	maxTxRetries = 5
)

var errAbsent = errors.New("record absent")

// Store persists records as JSON strings under analysis:{id} with a TTL.
type Store struct {
	client goredis.UniversalClient
}

func NewStore(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	cli := goredis.NewClient(opts)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx2).Err(); err != nil {
		_ = cli.Close()
		return nil, unavailable(err, "redis ping")
	}
	return cli, nil
}

func key(id domain.ID) string { return keyPrefix + string(id) }

func (s *Store) Put(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	if err := s.client.Set(ctx, key(r.RequestID), data, ttl).Err(); err != nil {
		return unavailable(err, "redis set")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.ID) (*domain.Record, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "redis get")
	}
	return decode(data)
}

// Update is a WATCH/MULTI read-merge-write: the SET only commits if the key
// did not change since it was read, otherwise the whole cycle is retried.
func (s *Store) Update(ctx context.Context, id domain.ID, ttl time.Duration, fn domain.Mutation) (*domain.Record, error) {
	k := key(id)
	var (
		out   *domain.Record
		fnErr error
	)

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			return errAbsent
		}
		if err != nil {
			return unavailable(err, "redis get")
		}
		rec, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			fnErr = err
			return err
		}
		rec.RequestID = id
		next, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, "encode record")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, next, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, k)
		switch {
		case err == nil:
			return out, nil
		case fnErr != nil:
			return nil, fnErr
		case errors.Is(err, errAbsent):
			return nil, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, domain.ErrStoreUnavailable):
			return nil, err
		default:
			return nil, unavailable(err, "redis update")
		}
	}
	return nil, errors.Mark(errors.Newf("redis update %s: too much contention", id), domain.ErrStoreUnavailable)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err, "redis ping")
	}
	return nil
}

func decode(data []byte) (*domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return &rec, nil
}

func unavailable(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrStoreUnavailable)
}
