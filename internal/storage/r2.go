package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultUploadExpiry bounds how long a presigned avatar upload stays valid
const DefaultUploadExpiry = 15 * time.Minute

// ErrUnsupportedType is returned for avatar content types other than images
var ErrUnsupportedType = errors.New("unsupported avatar content type")

var avatarTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// R2Config describes an R2 (or any S3-compatible) bucket
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Endpoint overrides the R2 endpoint derived from AccountID
	Endpoint string
	// PublicURL is the base under which uploaded objects are served
	PublicURL string
}

// AvatarUpload is what a client needs to PUT a new avatar
type AvatarUpload struct {
	UploadURL string    `json:"uploadUrl"`
	AvatarURL string    `json:"avatar"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// R2Storage handles Cloudflare R2 operations using AWS SDK v2
type R2Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
	expiry    time.Duration
}

// NewR2Storage creates a new R2 storage client
func NewR2Storage(cfg R2Config) (*R2Storage, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("R2 configuration incomplete: account id or endpoint required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
	}

	client := s3.New(s3.Options{
		Region:       "auto",
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})

	return &R2Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		expiry:    DefaultUploadExpiry,
	}, nil
}

// AvatarKey returns a fresh object key under the user's avatar prefix
func AvatarKey(userID uuid.UUID) (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate object id: %w", err)
	}
	return fmt.Sprintf("avatars/%s/%s", userID, id), nil
}

// PresignAvatarUpload issues a presigned PUT for a new avatar of userID
func (r *R2Storage) PresignAvatarUpload(ctx context.Context, userID uuid.UUID, contentType string) (*AvatarUpload, error) {
	if !avatarTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	key, err := AvatarKey(userID)
	if err != nil {
		return nil, err
	}

	request, err := r.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = r.expiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned PUT URL: %w", err)
	}

	return &AvatarUpload{
		UploadURL: request.URL,
		AvatarURL: r.publicURL + "/" + key,
		Key:       key,
		ExpiresAt: time.Now().Add(r.expiry),
	}, nil
}

// KeyFromURL maps a public avatar url back to its object key. It reports
// false for urls this bucket did not issue.
func (r *R2Storage) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, r.publicURL+"/")
	if !ok || !strings.HasPrefix(key, "avatars/") {
		return "", false
	}
	return key, true
}

// DeleteObject deletes an object from R2
func (r *R2Storage) DeleteObject(ctx context.Context, objectKey string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
