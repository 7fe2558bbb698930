package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyParticipants = "dir:participants"
	keyNicknames    = "dir:nicknames"

	redisOpTimeout = 5 * time.Second
)

// redisStore keeps each document as one JSON value in Redis.
type redisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb}, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) LoadParticipants() (map[int64]Participant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.rdb.Get(ctx, keyParticipants).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Participant
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	out := make(map[int64]Participant, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func (s *redisStore) SaveParticipants(parts map[int64]Participant) error {
	list := make([]Participant, 0, len(parts))
	for _, p := range parts {
		list = append(list, p)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.rdb.Set(ctx, keyParticipants, raw, 0).Err()
}

func (s *redisStore) LoadNicknames() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	raw, err := s.rdb.Get(ctx, keyNicknames).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *redisStore) SaveNicknames(nicks map[string]string) error {
	raw, err := json.Marshal(nicks)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return s.rdb.Set(ctx, keyNicknames, raw, 0).Err()
}
