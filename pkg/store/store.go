// Package store persists connection records: a Redis hash per record,
// written and read field by field, with a dedicated counter key for the
// service-id generator ("service-id-start").
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/nsi-gateway/pkg/connection"
)

// NotFoundError is returned by Load when no record exists for the given
// connection id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: connection %q not found", e.ID)
}

// counterKey is the Redis key backing the service-id generator. Seeded to
// service-id-start - 1 on first use so the first NextServiceID call
// returns service-id-start, matching a generator seeded by
// service-id-start.
const counterKey = "nsi:service-id-counter"

func recordKey(id string) string {
	return fmt.Sprintf("nsi:connection:%s", id)
}

const indexKey = "nsi:connections"

// Store is a Redis-backed connection record store.
type Store struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a Store against the Redis instance at addr/db.
func New(addr string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		ctx: context.Background(),
	}
}

// Connect verifies the Redis connection is reachable.
func (s *Store) Connect() error {
	return s.client.Ping(s.ctx).Err()
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// NextServiceID atomically increments and returns the next service id,
// seeding the counter to start-1 the first time it's read so the first
// call returns start.
func (s *Store) NextServiceID(start int64) (int64, error) {
	exists, err := s.client.Exists(s.ctx, counterKey).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		if err := s.client.Set(s.ctx, counterKey, start-1, 0).Err(); err != nil {
			return 0, err
		}
	}
	return s.client.Incr(s.ctx, counterKey).Result()
}

// fields the hash is serialized to/from. Path and Segments are stored as
// JSON blobs, not exploded into their own fields, since they're nested
// structures rather than scalars (unlike the SONiC config tables this
// pattern is grounded on, which only ever hold flat string fields).
func toFields(snap connection.Snapshot) (map[string]interface{}, error) {
	path, err := json.Marshal(snap.Path)
	if err != nil {
		return nil, err
	}
	segs, err := json.Marshal(snap.Segments)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":              snap.ID,
		"global_id":       snap.GlobalID,
		"requester_urn":   snap.RequesterURN,
		"state":           string(snap.State),
		"path":            string(path),
		"segments":        string(segs),
		"created_at":      snap.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      snap.UpdatedAt.Format(time.RFC3339Nano),
		"hold_expires_at": snap.HoldExpiresAt.Format(time.RFC3339Nano),
		"last_error":      snap.LastError,
	}, nil
}

func fromFields(vals map[string]string) (connection.Snapshot, error) {
	var snap connection.Snapshot
	snap.ID = vals["id"]
	snap.GlobalID = vals["global_id"]
	snap.RequesterURN = vals["requester_urn"]
	snap.State = connection.State(vals["state"])
	snap.LastError = vals["last_error"]

	if p := vals["path"]; p != "" {
		if err := json.Unmarshal([]byte(p), &snap.Path); err != nil {
			return snap, fmt.Errorf("store: decoding path: %w", err)
		}
	}
	if segs := vals["segments"]; segs != "" {
		if err := json.Unmarshal([]byte(segs), &snap.Segments); err != nil {
			return snap, fmt.Errorf("store: decoding segments: %w", err)
		}
	}
	snap.CreatedAt = parseTime(vals["created_at"])
	snap.UpdatedAt = parseTime(vals["updated_at"])
	snap.HoldExpiresAt = parseTime(vals["hold_expires_at"])
	return snap, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Save writes a connection's current snapshot, replacing any previous
// record for the same id and adding it to the connection-id index.
func (s *Store) Save(snap connection.Snapshot) error {
	fields, err := toFields(snap)
	if err != nil {
		return err
	}
	key := recordKey(snap.ID)
	if err := s.client.HSet(s.ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.client.SAdd(s.ctx, indexKey, snap.ID).Err()
}

// Load reads a connection's persisted snapshot by id.
func (s *Store) Load(id string) (connection.Snapshot, error) {
	vals, err := s.client.HGetAll(s.ctx, recordKey(id)).Result()
	if err != nil {
		return connection.Snapshot{}, err
	}
	if len(vals) == 0 {
		return connection.Snapshot{}, &NotFoundError{ID: id}
	}
	return fromFields(vals)
}

// Delete removes a connection's record and its index entry, used once a
// connection reaches Terminated and its state no longer needs to survive
// a restart.
func (s *Store) Delete(id string) error {
	if err := s.client.Del(s.ctx, recordKey(id)).Err(); err != nil {
		return err
	}
	return s.client.SRem(s.ctx, indexKey, id).Err()
}

// List returns every persisted connection id, used at startup to rebuild
// the in-memory aggregator state after a restart.
func (s *Store) List() ([]string, error) {
	return s.client.SMembers(s.ctx, indexKey).Result()
}

// LoadAll reads every persisted connection snapshot.
func (s *Store) LoadAll() ([]connection.Snapshot, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	snaps := make([]connection.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Load(id)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				continue // index and record raced; skip rather than fail the whole rebuild
			}
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
