// Package store tracks declared tracks and live status of broadcast
// sources independently of their connection lifetime.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rankland/broadcast-hub/internal/core"
)

// BroadcastStore is durable storage of broadcaster state, keyed by
// (alias, userID). Entries survive process restarts and self-expire.
type BroadcastStore interface {
	SetInfo(ctx context.Context, alias, userID string, info *core.BroadcastInfo) error
	GetInfo(ctx context.Context, alias, userID string) (*core.BroadcastInfo, error)
	SetTracks(ctx context.Context, alias, userID string, tracks []core.TrackDescriptor) error
	GetTracks(ctx context.Context, alias, userID string) ([]core.TrackDescriptor, error)
	Delete(ctx context.Context, alias, userID string) error
	GetAll(ctx context.Context, alias string) (map[string]*core.BroadcastState, error)
}

// RedisBroadcastStore implements BroadcastStore on redis. Every write
// refreshes the entry's TTL so abandoned state expires on its own.
type RedisBroadcastStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisBroadcastStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisBroadcastStore {
	return &RedisBroadcastStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisBroadcastStore) infoKey(alias, userID string) string {
	return fmt.Sprintf("%sbroadcaster:%s:%s:info", s.prefix, alias, userID)
}

func (s *RedisBroadcastStore) tracksKey(alias, userID string) string {
	return fmt.Sprintf("%sbroadcaster:%s:%s:tracks", s.prefix, alias, userID)
}

func (s *RedisBroadcastStore) SetInfo(ctx context.Context, alias, userID string, info *core.BroadcastInfo) error {
	return s.set(ctx, s.infoKey(alias, userID), info)
}

func (s *RedisBroadcastStore) GetInfo(ctx context.Context, alias, userID string) (*core.BroadcastInfo, error) {
	info := &core.BroadcastInfo{}
	ok, err := s.get(ctx, s.infoKey(alias, userID), info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

func (s *RedisBroadcastStore) SetTracks(ctx context.Context, alias, userID string, tracks []core.TrackDescriptor) error {
	return s.set(ctx, s.tracksKey(alias, userID), tracks)
}

func (s *RedisBroadcastStore) GetTracks(ctx context.Context, alias, userID string) ([]core.TrackDescriptor, error) {
	var tracks []core.TrackDescriptor
	ok, err := s.get(ctx, s.tracksKey(alias, userID), &tracks)
	if err != nil || !ok {
		return nil, err
	}
	return tracks, nil
}

func (s *RedisBroadcastStore) Delete(ctx context.Context, alias, userID string) error {
	return s.rdb.Del(ctx, s.infoKey(alias, userID), s.tracksKey(alias, userID)).Err()
}

// GetAll collects stored state of every broadcaster of a contest,
// keyed by user id.
func (s *RedisBroadcastStore) GetAll(ctx context.Context, alias string) (map[string]*core.BroadcastState, error) {
	pattern := fmt.Sprintf("%sbroadcaster:%s:*:info", s.prefix, alias)

	states := make(map[string]*core.BroadcastState)

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		userID := userIDFromInfoKey(iter.Val())
		if userID == "" {
			continue
		}

		info, err := s.GetInfo(ctx, alias, userID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			// expired between scan and get
			continue
		}
		tracks, err := s.GetTracks(ctx, alias, userID)
		if err != nil {
			return nil, err
		}

		states[userID] = &core.BroadcastState{
			Status:               info.Status,
			Tracks:               tracks,
			BroadcastingTrackIDs: info.BroadcastingTrackIDs,
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return states, nil
}

func (s *RedisBroadcastStore) set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, s.ttl).Err()
}

func (s *RedisBroadcastStore) get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// userIDFromInfoKey extracts the user id out of
// "{prefix}broadcaster:{alias}:{userId}:info".
func userIDFromInfoKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
