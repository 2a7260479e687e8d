package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quay/pipeline-results/internal/junit"
	"github.com/quay/pipeline-results/internal/model"
)

// Config holds the settings needed to connect to an S3-compatible store.
type Config struct {
	Endpoint  string // custom endpoint URL (e.g. http://localhost:3900)
	Region    string // "garage" for GarageFS, "us-east-1" for real S3
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string // key prefix the report patterns are relative to
}

type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client reads JUnit reports from a single bucket prefix.
type Client struct {
	s3     objectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates an S3 Client from the given Config.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return newClient(s3.NewFromConfig(awsCfg, opts...), cfg.Bucket, cfg.Prefix, logger), nil
}

func newClient(api objectAPI, bucket, prefix string, logger *slog.Logger) *Client {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Client{s3: api, bucket: bucket, prefix: prefix, logger: logger}
}

// WithPrefix returns a client reading from a sub-prefix of c's prefix,
// typically one workspace per build.
func (c *Client) WithPrefix(sub string) *Client {
	return newClient(c.s3, c.bucket, c.prefix+strings.TrimPrefix(sub, "/"), c.logger)
}

// Keys lists every object key under the client prefix, relative to it.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: aws.String(c.prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), c.prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			keys = append(keys, rel)
		}
	}
	return keys, nil
}

// Collect fetches and parses every report whose key, relative to the
// client prefix, matches patterns.
func (c *Client) Collect(ctx context.Context, patterns string) ([]*model.Suite, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := junit.Match(keys, patterns)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w under s3://%s/%s matching %q", junit.ErrNoFilesMatched, c.bucket, c.prefix, patterns)
	}

	var suites []*model.Suite
	for _, rel := range matched {
		data, err := c.getObject(ctx, c.prefix+rel)
		if err != nil {
			return nil, err
		}
		parsed, err := junit.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rel, err)
		}
		for _, s := range parsed {
			s.File = rel
		}
		c.logger.Debug("parsed report", "key", rel, "suites", len(parsed))
		suites = append(suites, parsed...)
	}
	if junit.CountCases(suites) == 0 {
		return nil, fmt.Errorf("%w: %d object(s) matching %q", junit.ErrZeroCases, len(matched), patterns)
	}
	return suites, nil
}

func (c *Client) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
