package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gate-admission/internal/status"
	"gate-admission/models"

	"github.com/redis/go-redis/v9"
)

const gateKeyPrefix = "gate:"

// Key layout:
//
//	gate:entry:<id>                       entry JSON
//	gate:token:<token>                    entry id
//	gate:active:<event>:<user>            id of the user's active entry
//	gate:queue:<event>:<gate>:<status>    ZSET of entry ids scored by joinedAt (ms)
//	gate:entries:active                   SET of every active entry id
func entryKey(id string) string    { return gateKeyPrefix + "entry:" + id }
func tokenKey(token string) string { return gateKeyPrefix + "token:" + token }
func activeUserKey(eventID, userID string) string {
	return gateKeyPrefix + "active:" + eventID + ":" + userID
}
func statusQueueKey(eventID, gateID string, st models.GateEntryStatus) string {
	return gateKeyPrefix + "queue:" + eventID + ":" + gateID + ":" + string(st)
}

const activeSetKey = gateKeyPrefix + "entries:active"

const (
	replyOK                = "OK"
	replyDuplicateActive   = "ERR_DUPLICATE_ACTIVE"
	replyDuplicateToken    = "ERR_DUPLICATE_TOKEN"
	replyNotFound          = "ERR_NOT_FOUND"
	replyConflict          = "ERR_CONFLICT"
	replyInvalidTransition = "ERR_INVALID_TRANSITION"
)

// KEYS: entry, token, active user, status queue, active set
// ARGV: entry JSON, entry id, joinedAt score
const insertEntryScript = `
if redis.call('EXISTS', KEYS[3]) == 1 then
  return 'ERR_DUPLICATE_ACTIVE'
end
if redis.call('SETNX', KEYS[2], ARGV[2]) == 0 then
  return 'ERR_DUPLICATE_TOKEN'
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[3], ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
redis.call('SADD', KEYS[5], ARGV[2])
return 'OK'
`

// KEYS: entry, active set
// ARGV: patch JSON, key prefix
const patchEntryScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 'ERR_NOT_FOUND'
end
local entry = cjson.decode(raw)
local patch = cjson.decode(ARGV[1])
local function allowed(list, value)
  if not list then
    return true
  end
  for _, s in ipairs(list) do
    if s == value then
      return true
    end
  end
  return false
end
if not allowed(patch.if_status, entry.status) then
  return 'ERR_CONFLICT'
end
if patch.if_token_unredeemed and entry.token_redeemed then
  return 'ERR_CONFLICT'
end
if not allowed(patch.from_status, entry.status) then
  return 'ERR_INVALID_TRANSITION'
end
local prev = entry.status
for k, v in pairs(patch.set) do
  entry[k] = v
end
local encoded = cjson.encode(entry)
redis.call('SET', KEYS[1], encoded)
if entry.status ~= prev then
  local base = ARGV[2] .. 'queue:' .. entry.event_id .. ':' .. entry.gate_id .. ':'
  local score = redis.call('ZSCORE', base .. prev, entry.id)
  redis.call('ZREM', base .. prev, entry.id)
  redis.call('ZADD', base .. entry.status, score or 0, entry.id)
  if entry.status ~= 'pending' and entry.status ~= 'current' then
    redis.call('SREM', KEYS[2], entry.id)
    local activeKey = ARGV[2] .. 'active:' .. entry.event_id .. ':' .. entry.user_id
    if redis.call('GET', activeKey) == entry.id then
      redis.call('DEL', activeKey)
    end
  end
end
return encoded
`

// RedisQueueStore keeps entries in Redis. Multi-key changes run as Lua
// scripts so a crash never leaves the indexes half written.
type RedisQueueStore struct {
	Redis *redis.Client
}

func NewRedisQueueStore(redisClient *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{Redis: redisClient}
}

type redisPatchSet struct {
	Status             *models.GateEntryStatus `json:"status,omitempty"`
	DeadlineAt         *time.Time              `json:"deadline_at,omitempty"`
	VerifiedAt         *time.Time              `json:"verified_at,omitempty"`
	TokenRedeemed      *bool                   `json:"token_redeemed,omitempty"`
	EstimatedWaitUnits *int                    `json:"estimated_wait_units,omitempty"`
}

type redisPatch struct {
	Set               redisPatchSet            `json:"set"`
	IfStatus          []models.GateEntryStatus `json:"if_status,omitempty"`
	FromStatus        []models.GateEntryStatus `json:"from_status,omitempty"`
	IfTokenUnredeemed bool                     `json:"if_token_unredeemed,omitempty"`
}

func encodeRedisPatch(p EntryPatch) ([]byte, error) {
	return json.Marshal(redisPatch{
		Set: redisPatchSet{
			Status:             p.Status,
			DeadlineAt:         p.DeadlineAt,
			VerifiedAt:         p.VerifiedAt,
			TokenRedeemed:      p.TokenRedeemed,
			EstimatedWaitUnits: p.EstimatedWaitUnits,
		},
		IfStatus:          p.IfStatus,
		FromStatus:        p.fromStatuses(),
		IfTokenUnredeemed: p.IfTokenUnredeemed,
	})
}

func (s *RedisQueueStore) Insert(ctx context.Context, entry *models.GateQueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	keys := []string{
		entryKey(entry.ID),
		tokenKey(entry.Token),
		activeUserKey(entry.EventID, entry.UserID),
		statusQueueKey(entry.EventID, entry.GateID, entry.Status),
		activeSetKey,
	}
	reply, err := s.Redis.Eval(ctx, insertEntryScript, keys, string(data), entry.ID, entry.JoinedAt.UnixMilli()).Text()
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.ID, err)
	}

	switch reply {
	case replyOK:
		return nil
	case replyDuplicateActive:
		return status.ErrDuplicateActiveEntry
	case replyDuplicateToken:
		return status.ErrDuplicateToken
	}
	return fmt.Errorf("insert entry %s: unexpected reply %q", entry.ID, reply)
}

func (s *RedisQueueStore) Get(ctx context.Context, id string) (*models.GateQueueEntry, error) {
	data, err := s.Redis.Get(ctx, entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, status.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return decodeEntry(data)
}

func (s *RedisQueueStore) GetByToken(ctx context.Context, token string) (*models.GateQueueEntry, error) {
	id, err := s.Redis.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, status.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisQueueStore) GetActiveForUser(ctx context.Context, userID, eventID string) (*models.GateQueueEntry, error) {
	id, err := s.Redis.Get(ctx, activeUserKey(eventID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get active entry for user %s: %w", userID, err)
	}

	entry, err := s.Get(ctx, id)
	if errors.Is(err, status.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if !entry.Status.IsActive() {
		return nil, nil
	}
	return entry, nil
}

func (s *RedisQueueStore) ListByStatus(ctx context.Context, eventID, gateID string, st models.GateEntryStatus) ([]*models.GateQueueEntry, error) {
	ids, err := s.Redis.ZRange(ctx, statusQueueKey(eventID, gateID, st), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s entries for %s/%s: %w", st, eventID, gateID, err)
	}
	entries, err := s.loadEntries(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index and the entry are written by the same script, filter anyway
	// so a reader never sees an entry under the wrong status.
	out := entries[:0]
	for _, entry := range entries {
		if entry.Status == st {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *RedisQueueStore) ListActive(ctx context.Context) ([]*models.GateQueueEntry, error) {
	ids, err := s.Redis.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	return s.loadEntries(ctx, ids)
}

func (s *RedisQueueStore) Patch(ctx context.Context, id string, patch EntryPatch) (*models.GateQueueEntry, error) {
	data, err := encodeRedisPatch(patch)
	if err != nil {
		return nil, err
	}

	reply, err := s.Redis.Eval(ctx, patchEntryScript, []string{entryKey(id), activeSetKey}, string(data), gateKeyPrefix).Text()
	if err != nil {
		return nil, fmt.Errorf("patch entry %s: %w", id, err)
	}

	switch reply {
	case replyNotFound:
		return nil, status.ErrNotFound
	case replyConflict:
		return nil, status.ErrConflict
	case replyInvalidTransition:
		return nil, status.ErrInvalidTransition
	}
	return decodeEntry([]byte(reply))
}

func (s *RedisQueueStore) loadEntries(ctx context.Context, ids []string) ([]*models.GateQueueEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
	}
	values, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	entries := make([]*models.GateQueueEntry, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeEntry(data []byte) (*models.GateQueueEntry, error) {
	var entry models.GateQueueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}
