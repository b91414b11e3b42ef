package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache is the cross-instance registry of who is attached to which
// document. It is guarded by redis, not by the content lock, so connects and
// disconnects never contend with edits.
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID uint64) error
	AliveMembers(ctx context.Context, docID string) ([]Member, error)
	SetCursor(ctx context.Context, docID string, userID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID string, userID uint64) ([]byte, error)
}

type Member struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember registers (or refreshes) a member. The ZSET score carries a
// logical expireAt so a crashed connection ages out even without an explicit
// RemoveMember.
func (p *redisPresence) AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(docID), userID, username)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID uint64) error {
	member := strconv.FormatUint(userID, 10)
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), member)
	tx.HDel(ctx, namesKey(docID), member)
	tx.Del(ctx, cursorKey(docID, userID))
	_, err := tx.Exec(ctx)
	return err
}

// sweepScript drops members whose logical TTL has passed, atomically with
// their name entries.
const sweepScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`

var sweep = redis.NewScript(sweepScript)

// AliveMembers sweeps expired members, then returns everyone still alive
// with their usernames.
func (p *redisPresence) AliveMembers(ctx context.Context, docID string) ([]Member, error) {
	now := time.Now().Unix()
	if _, err := sweep.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Int(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	members := make([]Member, 0, len(aliveIDs))
	for i, idStr := range aliveIDs {
		uid, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, Member{UserID: uid, Username: name})
	}
	return members, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID string, userID uint64, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID string, userID uint64) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
}
