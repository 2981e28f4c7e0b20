package analysis

import (
	"context"
	"time"
)

// Mutation is applied by Repository.Update to the stored record. Returning an
// error aborts the write.
type Mutation func(r *Record) error

// Repository port (TTL-keyed record store)
//
// Get and Update return a nil record without error when the id is unknown or
// expired. Update never creates a record and every write resets the TTL.
type Repository interface {
	Put(ctx context.Context, r *Record, ttl time.Duration) error
	Get(ctx context.Context, id ID) (*Record, error)
	Update(ctx context.Context, id ID, ttl time.Duration, fn Mutation) (*Record, error)
	Ping(ctx context.Context) error
}

// Queue port (delayed delivery to the webhook)
type Queue interface {
	Enqueue(ctx context.Context, id ID) error
}

// Generator port (AI provider)
type Generator interface {
	Generate(ctx context.Context, in Input) (string, error)
}
