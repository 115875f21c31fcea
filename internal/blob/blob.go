// Package blob opens archive and model locations that are either local file
// paths or s3://bucket/key objects.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// ErrBadLocation is returned for malformed s3 locations.
var ErrBadLocation = errors.New("blob: bad location")

// S3Config configures the S3 client. Empty keys fall back to the default
// AWS credential chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store resolves locations. The S3 client is created on first use.
type Store struct {
	cfg S3Config

	mu     sync.Mutex
	client objectAPI
}

// New returns a Store using cfg for s3 locations.
func New(cfg S3Config) *Store {
	return &Store{cfg: cfg}
}

// Location is a parsed s3 location.
type Location struct {
	Bucket string
	Key    string
}

// ParseS3 splits s3://bucket/key. ok is false for local paths.
func ParseS3(loc string) (Location, bool, error) {
	if !strings.HasPrefix(loc, s3Scheme) {
		return Location{}, false, nil
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(loc, s3Scheme), "/")
	if bucket == "" || key == "" {
		return Location{}, true, fmt.Errorf("%w: %q", ErrBadLocation, loc)
	}
	return Location{Bucket: bucket, Key: key}, true, nil
}

// Open returns a reader for loc.
func (s *Store) Open(ctx context.Context, loc string) (io.ReadCloser, error) {
	l, remote, err := ParseS3(loc)
	if err != nil {
		return nil, err
	}
	if !remote {
		f, err := os.Open(loc)
		if err != nil {
			return nil, fmt.Errorf("blob: open: %w", err)
		}
		return f, nil
	}
	client, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &l.Bucket, Key: &l.Key})
	if err != nil {
		return nil, fmt.Errorf("blob: get %s: %w", loc, err)
	}
	return out.Body, nil
}

// ReadAll returns the content of loc.
func (s *Store) ReadAll(ctx context.Context, loc string) ([]byte, error) {
	rc, err := s.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", loc, err)
	}
	return data, nil
}

// Create returns a writer for loc. Local files are created with their
// parent directories; s3 objects are uploaded on Close.
func (s *Store) Create(ctx context.Context, loc string) (io.WriteCloser, error) {
	l, remote, err := ParseS3(loc)
	if err != nil {
		return nil, err
	}
	if !remote {
		if err := os.MkdirAll(filepath.Dir(loc), 0o755); err != nil {
			return nil, fmt.Errorf("blob: mkdir: %w", err)
		}
		f, err := os.Create(loc)
		if err != nil {
			return nil, fmt.Errorf("blob: create: %w", err)
		}
		return f, nil
	}
	client, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}
	return &uploader{ctx: ctx, client: client, loc: l}, nil
}

func (s *Store) s3(ctx context.Context) (objectAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if s.cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: aws config: %w", err)
	}
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = s.cfg.PathStyle
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
	})
	return s.client, nil
}

// uploader buffers writes and puts the object on Close.
type uploader struct {
	ctx    context.Context
	client objectAPI
	loc    Location
	buf    bytes.Buffer
	closed bool
}

func (u *uploader) Write(p []byte) (int, error) {
	if u.closed {
		return 0, fmt.Errorf("blob: write after close")
	}
	return u.buf.Write(p)
}

func (u *uploader) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	_, err := u.client.PutObject(u.ctx, &s3.PutObjectInput{
		Bucket:        &u.loc.Bucket,
		Key:           &u.loc.Key,
		Body:          bytes.NewReader(u.buf.Bytes()),
		ContentLength: aws.Int64(int64(u.buf.Len())),
	})
	if err != nil {
		return fmt.Errorf("blob: put s3://%s/%s: %w", u.loc.Bucket, u.loc.Key, err)
	}
	return nil
}
