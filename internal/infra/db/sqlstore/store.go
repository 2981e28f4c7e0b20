package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

// Store keeps records in an analyses table. Rows past expires_at are treated
// as absent and removed lazily on read.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the expiry time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// EnsureSchema creates the analyses table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return unavailable(err, "create schema")
	}
	return nil
}

func (s *Store) Put(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	input, err := json.Marshal(r.Input)
	if err != nil {
		return errors.Wrap(err, "encode input")
	}
	_, err = s.db.ExecContext(ctx, s.dialect.upsert,
		string(r.RequestID), string(r.Status), string(input),
		nullString(r.Result), nullString(r.Error),
		r.CreatedAt, r.UpdatedAt, s.now().Add(ttl),
	)
	if err != nil {
		return unavailable(err, "upsert analysis")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.ID) (*domain.Record, error) {
	rec, expiresAt, err := scanRecord(s.db.QueryRowContext(ctx, s.dialect.selectOne, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "select analysis")
	}
	now := s.now()
	if !now.Before(expiresAt) {
		// hapus row expired, best effort
		_, _ = s.db.ExecContext(ctx, s.dialect.deleteStale, string(id), now)
		return nil, nil
	}
	return rec, nil
}

// Update locks the row with SELECT ... FOR UPDATE for the read-merge-write.
func (s *Store) Update(ctx context.Context, id domain.ID, ttl time.Duration, fn domain.Mutation) (*domain.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	rec, expiresAt, err := scanRecord(tx.QueryRowContext(ctx, s.dialect.selectLock, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "select analysis for update")
	}
	now := s.now()
	if !now.Before(expiresAt) {
		return nil, nil
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.RequestID = id

	_, err = tx.ExecContext(ctx, s.dialect.update,
		string(rec.Status), nullString(rec.Result), nullString(rec.Error),
		rec.UpdatedAt, now.Add(ttl), string(id),
	)
	if err != nil {
		return nil, unavailable(err, "update analysis")
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, "commit")
	}
	return rec, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, time.Time, error) {
	var (
		rec       domain.Record
		id        string
		status    string
		input     []byte
		result    sql.NullString
		errMsg    sql.NullString
		expiresAt time.Time
	)
	if err := row.Scan(&id, &status, &input, &result, &errMsg, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt); err != nil {
		return nil, time.Time{}, err
	}
	if err := json.Unmarshal(input, &rec.Input); err != nil {
		return nil, time.Time{}, errors.Wrap(err, "decode input")
	}
	rec.RequestID = domain.ID(id)
	rec.Status = domain.Status(status)
	if result.Valid {
		rec.Result = &result.String
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	return &rec, expiresAt, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func unavailable(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrStoreUnavailable)
}
