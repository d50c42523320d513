package ballotbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"zkvote/vote-prover/vote"
)

const DefaultRedisPrefix = "zk_ballot_"

// recordBallotScript sets the nullifier key only if absent and bumps the
// candidate's field in the tally hash in the same step.
var recordBallotScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
return 1
`)

type RedisStore struct {
	Client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{Client: client, prefix: prefix}, nil
}

func (s *RedisStore) nullifierKey(n vote.Digest) string {
	return s.prefix + "nullifier:" + n.String()
}

func (s *RedisStore) tallyKey() string {
	return s.prefix + "tally"
}

func (s *RedisStore) RecordBallot(ctx context.Context, ballot *Ballot) error {
	encoded, err := encodeBallot(ballot)
	if err != nil {
		return err
	}
	keys := []string{s.nullifierKey(ballot.Nullifier), s.tallyKey()}
	recorded, err := recordBallotScript.Run(ctx, s.Client, keys, encoded, strconv.FormatUint(uint64(ballot.CandidateID), 10)).Int()
	if err != nil {
		return fmt.Errorf("failed to record ballot: %w", err)
	}
	if recorded == 0 {
		return ErrNullifierUsed
	}
	return nil
}

func (s *RedisStore) NullifierUsed(ctx context.Context, nullifier vote.Digest) (bool, error) {
	n, err := s.Client.Exists(ctx, s.nullifierKey(nullifier)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Count(ctx context.Context, candidateID uint32) (uint64, error) {
	count, err := s.Client.HGet(ctx, s.tallyKey(), strconv.FormatUint(uint64(candidateID), 10)).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *RedisStore) Tally(ctx context.Context) (map[uint32]uint64, error) {
	fields, err := s.Client.HGetAll(ctx, s.tallyKey()).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[uint32]uint64, len(fields))
	for field, value := range fields {
		candidateID, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("corrupt tally field %q: %w", field, err)
		}
		count, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt tally value %q: %w", value, err)
		}
		result[uint32(candidateID)] = count
	}
	return result, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
