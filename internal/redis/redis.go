// Package redis holds the shared redis client and the short-lived screenshot cache
// for displays.
package redis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var Rdb *redis.Client

var (
	ErrNoScreenshot  = errors.New("no screenshot")
	ErrNotAnImage    = errors.New("payload is not an image")
	ErrEmptyPayload  = errors.New("empty payload")
	screenshotPrefix = "signage:display:screenshot:"
)

func InitRedis(address, username, password string) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis at %s: %w", address, err)
	}
	log.Info().Str("addr", address).Msg("connected to redis")
	return nil
}

// Screenshots caches the latest screenshot of each display. Entries expire after
// the configured lifetime and are never persisted elsewhere.
type Screenshots struct {
	rdb      redis.Cmdable
	lifetime time.Duration
}

func NewScreenshots(rdb redis.Cmdable, lifetime time.Duration) *Screenshots {
	return &Screenshots{rdb: rdb, lifetime: lifetime}
}

func screenshotKey(displayID string) string {
	return screenshotPrefix + displayID
}

// Put stores an image for the display, replacing the previous one.
func (s *Screenshots) Put(ctx context.Context, displayID string, image []byte) error {
	if _, err := DetectImage(image); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, screenshotKey(displayID), image, s.lifetime).Err(); err != nil {
		log.Error().Err(err).Str("display_id", displayID).Msg("failed to cache screenshot")
		return err
	}
	return nil
}

// Get returns the cached image and its content type.
func (s *Screenshots) Get(ctx context.Context, displayID string) ([]byte, string, error) {
	b, err := s.rdb.Get(ctx, screenshotKey(displayID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNoScreenshot
	}
	if err != nil {
		log.Error().Err(err).Str("display_id", displayID).Msg("failed to read screenshot")
		return nil, "", err
	}
	mime, err := DetectImage(b)
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}

// DecodeScreenshot accepts a base64 payload, optionally wrapped in a data URL, and
// returns the decoded image bytes.
func DecodeScreenshot(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i > 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients strip the padding
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if _, err := DetectImage(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DetectImage sniffs the content type and rejects anything that is not an image.
func DetectImage(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrEmptyPayload
	}
	mt := mimetype.Detect(b)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrNotAnImage, mt.String())
	}
	return mt.String(), nil
}
