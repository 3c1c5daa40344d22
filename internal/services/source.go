package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Opener resolves a dataset source into a byte stream.
type Opener interface {
	Open(ctx context.Context, source string) (io.ReadCloser, error)
}

// S3Options configures s3:// sources. Credentials come from the default
// AWS chain.
type S3Options struct {
	Region   string
	Endpoint string
}

// SourceOpener opens local paths, file:// and http(s):// URLs, and
// s3://bucket/key objects. The S3 client is created on first use.
type SourceOpener struct {
	client *http.Client
	s3opts S3Options

	s3once   sync.Once
	s3client *s3.Client
	s3err    error
}

func NewSourceOpener(client *http.Client, s3opts S3Options) *SourceOpener {
	if client == nil {
		client = http.DefaultClient
	}
	return &SourceOpener{client: client, s3opts: s3opts}
}

func (o *SourceOpener) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return o.openHTTP(ctx, source)
	case strings.HasPrefix(source, "s3://"):
		return o.openS3(ctx, source)
	default:
		return os.Open(strings.TrimPrefix(source, "file://"))
	}
}

func (o *SourceOpener) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", source, resp.Status)
	}
	return resp.Body, nil
}

func (o *SourceOpener) openS3(ctx context.Context, source string) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse s3 url: %w", err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 source %q must be s3://bucket/key", source)
	}

	client, err := o.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (o *SourceOpener) s3Client(ctx context.Context) (*s3.Client, error) {
	o.s3once.Do(func() {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.s3opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.s3opts.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			o.s3err = fmt.Errorf("load aws config: %w", err)
			return
		}
		o.s3client = s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
			if o.s3opts.Endpoint != "" {
				opts.BaseEndpoint = aws.String(o.s3opts.Endpoint)
				opts.UsePathStyle = true
			}
		})
	})
	return o.s3client, o.s3err
}

// isRemote reports whether source is fetched over the network.
func isRemote(source string) bool {
	return strings.Contains(source, "://") && !strings.HasPrefix(source, "file://")
}
