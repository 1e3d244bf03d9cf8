// Package redis mirrors live room membership into Redis so operators and
// other services can inspect presence without talking to the relay. The relay
// never reads membership back from here for routing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"
)

// ErrRoomNotFound is returned when the store has no record of a room
var ErrRoomNotFound = errors.New("room not found")

const firstSeenField = "firstSeenAt"

// Store writes presence under room:<id> (hash) and room:<id>:peers (set)
type Store struct {
	client *redis.Client
	ttl    time.Duration
	log    logging.LeveledLogger
}

// Connect initializes the Redis client and verifies the connection
func Connect(ctx context.Context, cfg config.RedisConfig, loggerFactory logging.LoggerFactory) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStore(client, cfg.PresenceTTL, loggerFactory), nil
}

// NewStore wraps an existing client
func NewStore(client *redis.Client, ttl time.Duration, loggerFactory logging.LoggerFactory) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		log:    loggerFactory.NewLogger("redis"),
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Joined records participantID as present in roomID and stamps the room's
// first-seen time if this is the first member ever recorded.
func (s *Store) Joined(ctx context.Context, roomID, participantID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(roomID), participantID)
		pipe.HSetNX(ctx, roomKey(roomID), firstSeenField, time.Now().UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, peersKey(roomID), s.ttl)
		pipe.Expire(ctx, roomKey(roomID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record join %s/%s: %w", roomID, participantID, err)
	}
	return nil
}

// Left removes participantID from roomID and drops the room's keys once the
// member set is empty.
func (s *Store) Left(ctx context.Context, roomID, participantID string) error {
	if err := s.client.SRem(ctx, peersKey(roomID), participantID).Err(); err != nil {
		return fmt.Errorf("record leave %s/%s: %w", roomID, participantID, err)
	}

	remaining, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("count members of %s: %w", roomID, err)
	}
	if remaining == 0 {
		if err := s.client.Del(ctx, roomKey(roomID), peersKey(roomID)).Err(); err != nil {
			return fmt.Errorf("drop room %s: %w", roomID, err)
		}
		s.log.Debugf("dropped empty room %s", roomID)
	}
	return nil
}

// Room returns what the store knows about roomID
func (s *Store) Room(ctx context.Context, roomID string) (*RoomPresence, error) {
	firstSeen, err := s.client.HGet(ctx, roomKey(roomID), firstSeenField).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, firstSeen)
	if err != nil {
		return nil, fmt.Errorf("parse room %s: %w", roomID, err)
	}

	members, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count members of %s: %w", roomID, err)
	}

	return &RoomPresence{FirstSeenAt: ts, Members: int(members)}, nil
}

// RoomPresence is the stored view of one room
type RoomPresence struct {
	FirstSeenAt time.Time
	Members     int
}

func roomKey(roomID string) string  { return "room:" + roomID }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }
