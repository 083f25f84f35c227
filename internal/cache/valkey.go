package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tourbook/internal/models"
)

// ErrCacheMiss is returned when a key is absent
var ErrCacheMiss = errors.New("cache miss")

type Config struct {
	Addr         string
	Password     string
	DB           int
	UsersHashKey string
	ActivityTTL  time.Duration
}

type ValkeyClient struct {
	client       redis.Cmdable
	closer       func() error
	usersHashKey string
	activityTTL  time.Duration
}

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	c := NewWithClient(rdb, cfg)
	c.closer = rdb.Close
	return c, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client redis.Cmdable, cfg Config) *ValkeyClient {
	if cfg.UsersHashKey == "" {
		cfg.UsersHashKey = "users:auth"
	}
	if cfg.ActivityTTL == 0 {
		cfg.ActivityTTL = 5 * time.Minute
	}
	return &ValkeyClient{
		client:       client,
		usersHashKey: cfg.UsersHashKey,
		activityTTL:  cfg.ActivityTTL,
	}
}

func authCacheKey(email, passwordHash string) string {
	authString := fmt.Sprintf("%s:%s", email, passwordHash)
	return base64.StdEncoding.EncodeToString([]byte(authString))
}

func (v *ValkeyClient) GetUserIDByAuth(ctx context.Context, email, passwordHash string) (int64, error) {
	userIDStr, err := v.client.HGet(ctx, v.usersHashKey, authCacheKey(email, passwordHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("cache lookup error: %w", err)
	}

	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID in cache: %w", err)
	}

	return userID, nil
}

func (v *ValkeyClient) SetUserAuth(ctx context.Context, email, passwordHash string, userID int64) error {
	if err := v.client.HSet(ctx, v.usersHashKey, authCacheKey(email, passwordHash), userID).Err(); err != nil {
		return fmt.Errorf("cache write error: %w", err)
	}
	return nil
}

func activityKey(id string) string {
	return "activity:" + id
}

// GetActivity returns a cached activity snapshot
func (v *ValkeyClient) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	raw, err := v.client.Get(ctx, activityKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}

	var activity models.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, fmt.Errorf("invalid activity in cache: %w", err)
	}
	return &activity, nil
}

func (v *ValkeyClient) SetActivity(ctx context.Context, activity *models.Activity) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if err := v.client.Set(ctx, activityKey(activity.ID), raw, v.activityTTL).Err(); err != nil {
		return fmt.Errorf("cache write error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Close() error {
	if v.closer != nil {
		return v.closer()
	}
	return nil
}
