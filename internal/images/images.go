// Package images resolves URLs for rendered target assets held in
// S3-compatible object storage. The renderer uploads one object per image
// role through a presigned PUT; when a target is marked processed the store
// resolves presigned GET URLs per role for the MOD chip payload.
package images

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/plastr/extrasolar/internal/config"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/shared"
)

// Image roles produced by the renderer for a picture target.
const (
	RolePhoto     = "photo"
	RoleThumb     = "thumb"
	RoleSpecies   = "species"
	RoleInfrared  = "infrared"
	RoleWallpaper = "wallpaper"
	RolePanorama  = "panorama"
)

// PresignTTL bounds how long a presigned URL stays valid.
const PresignTTL = 15 * time.Minute

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// roles in deterministic resolution order.
var roles = []string{RolePhoto, RoleThumb, RoleSpecies, RoleInfrared, RoleWallpaper, RolePanorama}

// Roles returns the known image roles in resolution order.
func Roles() []string {
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}

// IsRole reports whether role is one the renderer produces.
func IsRole(role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// ObjectKey returns the storage key for one role of one target's render.
func ObjectKey(userID, targetID, role string) string {
	return fmt.Sprintf("renders/%s/%s/%s.jpg", userID, targetID, role)
}

// Store presigns object-storage URLs for rendered target imagery.
type Store struct {
	log    logging.Logger
	config *config.Config
}

func NewStore(log logging.Logger, config *config.Config) *Store {
	return &Store{
		log:    log,
		config: config,
	}
}

func (s *Store) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// UploadURLs presigns one PUT URL per image role for the renderer. The
// returned map is role to URL; keys follow ObjectKey.
func (s *Store) UploadURLs(ctx context.Context, userID, targetID string) (map[string]string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	urls := make(map[string]string, len(roles))
	for _, role := range roles {
		key := ObjectKey(userID, targetID, role)
		req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
		}, s3.WithPresignExpires(PresignTTL))
		if err != nil {
			return nil, fmt.Errorf("presigning upload for %s: %w", key, err)
		}
		urls[role] = req.URL
	}
	s.log.Debug(ctx, "presigned render uploads", "target_id", targetID, "roles", len(urls))
	return urls, nil
}

// ResolveURLs presigns a GET URL per uploaded role. keys maps role to the
// storage key the renderer reported; unknown roles are rejected so a
// misbehaving renderer cannot smuggle arbitrary fields into the target
// payload.
func (s *Store) ResolveURLs(ctx context.Context, keys map[string]string) (map[string]string, error) {
	for role := range keys {
		if !IsRole(role) {
			return nil, fmt.Errorf("%w: unknown image role %q", shared.ErrorBadRequest, role)
		}
	}

	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	urls := make(map[string]string, len(keys))
	for _, role := range roles {
		key, ok := keys[role]
		if !ok {
			continue
		}
		req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &key,
		}, s3.WithPresignExpires(PresignTTL))
		if err != nil {
			return nil, fmt.Errorf("presigning download for %s: %w", key, err)
		}
		urls[role] = req.URL
	}
	return urls, nil
}
