package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/plastr/extrasolar/internal/config"
	"github.com/plastr/extrasolar/internal/logging"
	"github.com/plastr/extrasolar/internal/shared"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestStore() *Store {
	return NewStore(testLogger(), &config.Config{
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "renders",
	})
}

func stubPresignSeams(t *testing.T) {
	t.Helper()
	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	origGet := presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
		presignGetObject = origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://127.0.0.1:9000" {
			t.Fatalf("BaseEndpoint not applied: %v", opts.BaseEndpoint)
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return &s3.PresignClient{}
	}
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: "https://signed.example/put/" + *in.Key}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: "https://signed.example/get/" + *in.Key}, nil
	}
}

func TestUploadURLs_OnePerRole(t *testing.T) {
	stubPresignSeams(t)
	store := newTestStore()

	urls, err := store.UploadURLs(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("UploadURLs error: %v", err)
	}
	if len(urls) != len(Roles()) {
		t.Fatalf("expected %d urls, got %d", len(Roles()), len(urls))
	}
	want := "https://signed.example/put/renders/u1/t1/photo.jpg"
	if urls[RolePhoto] != want {
		t.Errorf("photo url = %q, want %q", urls[RolePhoto], want)
	}
}

func TestResolveURLs_SignsReportedKeys(t *testing.T) {
	stubPresignSeams(t)
	store := newTestStore()

	urls, err := store.ResolveURLs(context.Background(), map[string]string{
		RolePhoto: ObjectKey("u1", "t1", RolePhoto),
		RoleThumb: ObjectKey("u1", "t1", RoleThumb),
	})
	if err != nil {
		t.Fatalf("ResolveURLs error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %d", len(urls))
	}
	if !strings.HasSuffix(urls[RoleThumb], "/renders/u1/t1/thumb.jpg") {
		t.Errorf("thumb url = %q", urls[RoleThumb])
	}
}

func TestResolveURLs_RejectsUnknownRole(t *testing.T) {
	stubPresignSeams(t)
	store := newTestStore()

	_, err := store.ResolveURLs(context.Background(), map[string]string{
		"tracking_pixel": "renders/u1/t1/x.jpg",
	})
	if !errors.Is(err, shared.ErrorBadRequest) {
		t.Fatalf("expected ErrorBadRequest, got %v", err)
	}
}

func TestResolveURLs_ConfigErrorPropagates(t *testing.T) {
	stubPresignSeams(t)
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	store := newTestStore()

	_, err := store.ResolveURLs(context.Background(), map[string]string{RolePhoto: "k"})
	if err == nil || err.Error() != "load-fail" {
		t.Fatalf("expected load-fail, got %v", err)
	}
}

func TestUploadURLs_PresignErrorPropagates(t *testing.T) {
	stubPresignSeams(t)
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, fmt.Errorf("sign-fail")
	}
	store := newTestStore()

	_, err := store.UploadURLs(context.Background(), "u1", "t1")
	if err == nil || !strings.Contains(err.Error(), "sign-fail") {
		t.Fatalf("expected sign-fail, got %v", err)
	}
}
