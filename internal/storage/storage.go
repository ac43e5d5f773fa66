package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog/log"
)

// Storage turns the object keys stored on pages into URLs a display can fetch.
type Storage interface {
	URL(key string) (string, error)
}

type LocalStorage struct {
	prefix string
}

type SpacesStorage struct {
	client     *s3.S3
	bucket     string
	cdnURL     string
	presignTTL time.Duration
}

// NewLocalStorage serves keys below prefix, usually "/uploads".
func NewLocalStorage(prefix string) *LocalStorage {
	return &LocalStorage{prefix: "/" + strings.Trim(prefix, "/")}
}

func NewSpacesStorage(endpoint, region, bucket, cdnURL, accessKey, secretKey string, presignTTL time.Duration) (*SpacesStorage, error) {
	config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(false),
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SpacesStorage{
		client:     s3.New(sess),
		bucket:     bucket,
		cdnURL:     cdnURL,
		presignTTL: presignTTL,
	}, nil
}

func isAbsolute(key string) bool {
	u, err := url.Parse(key)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (ls *LocalStorage) URL(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	if isAbsolute(key) {
		return key, nil
	}
	return path.Join(ls.prefix, strings.TrimPrefix(key, "/")), nil
}

// URL prefers the CDN and falls back to a presigned GET request.
func (ss *SpacesStorage) URL(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	if isAbsolute(key) {
		return key, nil
	}
	key = strings.TrimPrefix(key, "/")
	if ss.cdnURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(ss.cdnURL, "/"), key), nil
	}

	req, _ := ss.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(ss.bucket),
		Key:    aws.String(key),
	})
	signed, err := req.Presign(ss.presignTTL)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign Spaces object")
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return signed, nil
}
