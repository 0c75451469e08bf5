package shared

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// ErrIdempotencyConflict indicates a key reused with a different request
// body: a client bug or key collision, never silently accepted.
var ErrIdempotencyConflict = fmt.Errorf("idempotency key reused with a different request: %w", ErrConflict)

// IdempotencyRecord is the stored outcome of a guarded operation, unique per
// (org, key).
type IdempotencyRecord struct {
	OrgID       int64
	Key         string
	RequestHash string
	Response    []byte
	StatusCode  int
	CreatedAt   time.Time
}

// IdempotencyRecords persists completed-request records.
type IdempotencyRecords interface {
	Get(ctx context.Context, orgID int64, key string) (IdempotencyRecord, error)
	Insert(ctx context.Context, rec IdempotencyRecord) error
}

// GuardedResponse is the caller-visible outcome of a guarded operation.
// Replayed is true when the response came from a stored record and the
// operation was not re-executed.
type GuardedResponse struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

// IdempotencyGuard maps a (scope, actor, request-hash) tuple to a previously
// computed response so retried financial operations are not double-applied.
// Concurrent in-process retries of the same key collapse into a single
// execution via singleflight before they reach the store.
type IdempotencyGuard struct {
	records IdempotencyRecords
	group   singleflight.Group
	now     func() time.Time
}

// NewIdempotencyGuard constructs the guard.
func NewIdempotencyGuard(records IdempotencyRecords) *IdempotencyGuard {
	return &IdempotencyGuard{records: records, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (g *IdempotencyGuard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Do runs op under the idempotency contract. An empty key bypasses the guard
// entirely (the key is caller-supplied and optional). A stored record with a
// matching request hash is returned verbatim without re-executing op; a hash
// mismatch fails ErrIdempotencyConflict. The record is persisted only after
// op succeeds, so a failed attempt can be retried with the same key. A caller
// that joins an in-flight execution of the same key receives the winner's
// response marked Replayed.
func (g *IdempotencyGuard) Do(ctx context.Context, orgID int64, scope, key string, actorID int64, payload any, op func(context.Context) (GuardedResponse, error)) (GuardedResponse, error) {
	if key == "" {
		return op(ctx)
	}
	hash, err := RequestHash(scope, actorID, payload)
	if err != nil {
		return GuardedResponse{}, err
	}
	ran := false
	v, err, _ := g.group.Do(fmt.Sprintf("%d:%s", orgID, key), func() (any, error) {
		ran = true
		rec, err := g.records.Get(ctx, orgID, key)
		if err == nil {
			if rec.RequestHash != hash {
				return nil, ErrIdempotencyConflict
			}
			return GuardedResponse{StatusCode: rec.StatusCode, Body: rec.Response, Replayed: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		resp, err := op(ctx)
		if err != nil {
			return nil, err
		}
		insErr := g.records.Insert(ctx, IdempotencyRecord{
			OrgID:       orgID,
			Key:         key,
			RequestHash: hash,
			Response:    resp.Body,
			StatusCode:  resp.StatusCode,
			CreatedAt:   g.now(),
		})
		if insErr != nil && !errors.Is(insErr, ErrConflict) {
			return nil, insErr
		}
		// A concurrent writer winning the insert race is benign: the
		// operation's own uniqueness constraints already serialized the side
		// effect.
		return resp, nil
	})
	if err != nil {
		return GuardedResponse{}, err
	}
	resp := v.(GuardedResponse)
	if !ran {
		// This caller joined an in-flight execution and never ran op; from its
		// point of view the response is a replay.
		resp.Replayed = true
	}
	return resp, nil
}

// RequestHash computes the stable hash identifying a logical request.
func RequestHash(scope string, actorID int64, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("idempotency: hash payload: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", scope, actorID, body)))
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyStore persists records in PostgreSQL.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Get loads a record by (org, key).
func (s *IdempotencyStore) Get(ctx context.Context, orgID int64, key string) (IdempotencyRecord, error) {
	rec := IdempotencyRecord{OrgID: orgID, Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT request_hash, response, status_code, created_at FROM idempotency_keys WHERE org_id=$1 AND key=$2`,
		orgID, key,
	).Scan(&rec.RequestHash, &rec.Response, &rec.StatusCode, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotencyRecord{}, ErrNotFound
		}
		return IdempotencyRecord{}, err
	}
	return rec, nil
}

// Insert stores a completed record; a duplicate (org, key) maps to
// ErrConflict.
func (s *IdempotencyStore) Insert(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (org_id, key, request_hash, response, status_code, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.OrgID, rec.Key, rec.RequestHash, rec.Response, rec.StatusCode, rec.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
