// Package archive stores trigger records in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

const (
	defaultRegion = "auto"
	uploadTimeout = 30000 * time.Millisecond
)

// ErrNotConfigured is returned when bucket or credentials are missing.
var ErrNotConfigured = errors.New("S3 archive is not configured")

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint        string // Custom S3 endpoint (empty for AWS)
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// IsConfigured reports whether bucket and credentials are set.
func (c *Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// ObjectAPI is the subset of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Record is the document stored for one trigger.
type Record struct {
	Event      types.TriggerEvent   `json:"event"`
	Phone      string               `json:"phone,omitempty"`
	Result     types.WorkflowResult `json:"result,omitempty"`
	ArchivedAt time.Time            `json:"archived_at"`
}

// Archiver uploads trigger records.
type Archiver struct {
	api    ObjectAPI
	bucket string
	prefix string
}

// New creates an Archiver with an S3 client for cfg.
func New(cfg *Config) (*Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return newArchiver(createS3Client(cfg), cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(api ObjectAPI, bucket, prefix string) *Archiver {
	return &Archiver{api: api, bucket: bucket, prefix: prefix}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Key returns the object key for a trigger: prefix/YYYY/MM/DD/<id>.json.
func (a *Archiver) Key(ev *types.TriggerEvent) string {
	at := ev.At.UTC()
	return path.Join(
		strings.Trim(a.prefix, "/"),
		at.Format("2006"), at.Format("01"), at.Format("02"),
		ev.ID+".json",
	)
}

// Upload stores rec and returns its key.
//
//nolint:gocritic // hugeParam: called once per trigger
func (a *Archiver) Upload(ctx context.Context, rec Record) (string, error) {
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", util.WrapError("marshal trigger record", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key := a.Key(&rec.Event)
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", util.WrapError("upload trigger record", err)
	}

	slog.Info("trigger archived", "bucket", a.bucket, "key", key)
	return key, nil
}

// TestConnection checks bucket access by uploading and deleting a test object.
func (a *Archiver) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	testKey := path.Join(strings.Trim(a.prefix, "/"), fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("ZuidWest FM loudwatch connection test")

	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = a.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
