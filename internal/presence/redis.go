package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey       = "presence:online"
	connCountPrefix = "presence:conns:"
)

// The counter and the set change together so concurrent relays never see an
// identity counted but missing from the set.
var (
	addScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("SADD", KEYS[2], ARGV[1])
end
return n
`)
	removeScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[1])
	if n < 0 then
		return -1
	end
end
return n
`)
)

// RedisStore shares presence between relay instances.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Add(ctx context.Context, identity string) (bool, error) {
	n, err := addScript.Run(ctx, s.rdb, []string{connCountPrefix + identity, onlineKey}, identity).Int64()
	if err != nil {
		return false, fmt.Errorf("presence add %q: %w", identity, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, identity string) (bool, error) {
	n, err := removeScript.Run(ctx, s.rdb, []string{connCountPrefix + identity, onlineKey}, identity).Int64()
	if err != nil {
		return false, fmt.Errorf("presence remove %q: %w", identity, err)
	}
	return n == 0, nil
}

func (s *RedisStore) Online(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, identity string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, onlineKey, identity).Result()
	if err != nil {
		return false, fmt.Errorf("presence check %q: %w", identity, err)
	}
	return ok, nil
}
