package sound

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxAssetSize bounds how much of an alert clip is read into memory.
const maxAssetSize = 4 << 20

// Loader fetches the alert clip.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) ([]byte, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open alert sound: %w", err)
	}
	defer f.Close()
	return readAsset(f)
}

// ObjectGetter is satisfied by *s3.Client.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader downloads the clip from a bucket, so one asset can be shared by
// every terminal in a restaurant.
type S3Loader struct {
	client ObjectGetter
	bucket string
	key    string
}

func NewS3Loader(client ObjectGetter, bucket, key string) *S3Loader {
	return &S3Loader{client: client, bucket: bucket, key: key}
}

func (l *S3Loader) Load(ctx context.Context) ([]byte, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	return readAsset(out.Body)
}

func readAsset(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read alert sound: %w", err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("alert sound exceeds %d bytes", maxAssetSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("alert sound is empty")
	}
	return data, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %q", raw)
	}
	return bucket, key, nil
}

// IsS3URL reports whether asset names an object in S3.
func IsS3URL(asset string) bool {
	return strings.HasPrefix(asset, "s3://")
}

// LoaderFor returns the loader for a configured asset, or nil when no asset
// is configured. client is only consulted for s3:// assets.
func LoaderFor(asset string, client ObjectGetter) (Loader, error) {
	switch {
	case asset == "":
		return nil, nil
	case IsS3URL(asset):
		if client == nil {
			return nil, fmt.Errorf("s3 client required for %q", asset)
		}
		bucket, key, err := ParseS3URL(asset)
		if err != nil {
			return nil, err
		}
		return NewS3Loader(client, bucket, key), nil
	default:
		return FileLoader{Path: asset}, nil
	}
}

type AWSConfig struct {
	Region      string
	EndpointURL string
	AccessKeyID string
	SecretKey   string
}

// NewS3Client builds an S3 client. A custom endpoint (MinIO, LocalStack)
// switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg AWSConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}
