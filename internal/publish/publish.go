// Package publish uploads a built destination tree to an S3-compatible
// bucket.
//
// Keys are the configured prefix followed by the file's slash-separated
// path relative to the destination root:
//
//	dist/css/app.css  →  <prefix>css/app.css
//
// Uploads run concurrently, bounded by publish.concurrency. A failed
// upload does not stop the others; all failures are returned together.
package publish

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

// Uploader is the subset of *s3.Client the publisher needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures a Publisher.
type Options struct {
	// Uploader sends objects. If nil, a client is built from the config
	// and the AWS_* environment variables.
	Uploader Uploader

	// Logger receives upload logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Result summarizes a publish run.
type Result struct {
	Keys     []string
	Bytes    int64
	Duration time.Duration
}

// Publisher uploads the destination root.
type Publisher struct {
	config   *config.Config
	uploader Uploader
	logger   *slog.Logger
}

// New creates a publisher. It fails with E140 when no bucket is set.
func New(cfg *config.Config, options Options) (*Publisher, error) {
	if cfg.Publish.Bucket == "" {
		return nil, errors.New("E140").
			WithDetail("No bucket configured").
			WithSuggestion("Set publish.bucket in assetpipe.json or ASSETPIPE_PUBLISH_BUCKET")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploader := options.Uploader
	if uploader == nil {
		uploader = NewClient(cfg.Publish)
	}

	return &Publisher{config: cfg, uploader: uploader, logger: logger}, nil
}

// NewClient builds an S3 client from publish settings. Credentials come
// from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN;
// the region falls back to AWS_REGION.
func NewClient(pc config.PublishConfig) *s3.Client {
	region := pc.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: pc.PathStyle,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
			if id == "" || secret == "" {
				return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
			}
			return aws.Credentials{
				AccessKeyID:     id,
				SecretAccessKey: secret,
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		})),
	}
	if pc.Endpoint != "" {
		opts.BaseEndpoint = aws.String(pc.Endpoint)
	}
	return s3.New(opts)
}

// Publish uploads every file under the destination root.
func (p *Publisher) Publish(ctx context.Context) (*Result, error) {
	start := time.Now()
	root := p.config.DestRoot()

	files, err := doublestar.Glob(os.DirFS(root), "**", doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.New("E140").Wrap(err)
	}
	if len(files) == 0 {
		return nil, errors.New("E140").
			WithDetail("Nothing to publish in " + p.config.Rel(root)).
			WithSuggestion("Run 'assetpipe build' first")
	}

	var (
		mu    sync.Mutex
		keys  []string
		errs  []error
		bytes atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Publish.Concurrency)

	for _, rel := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			key := Key(p.config.Publish.Prefix, rel)
			n, err := p.upload(gctx, filepath.Join(root, filepath.FromSlash(rel)), key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, errors.New("E140").WithDetail("Upload failed: "+key).Wrap(err))
				return nil
			}
			keys = append(keys, key)
			bytes.Add(n)
			p.logger.Debug("uploaded", "key", key, "size", humanize.Bytes(uint64(n)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(keys)
	result := &Result{Keys: keys, Bytes: bytes.Load(), Duration: time.Since(start)}
	p.logger.Info("Published",
		"bucket", p.config.Publish.Bucket,
		"objects", len(keys),
		"size", humanize.Bytes(uint64(result.Bytes)),
		"duration", result.Duration.Round(time.Millisecond))

	return result, stderrors.Join(errs...)
}

func (p *Publisher) upload(ctx context.Context, file, key string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	_, err = p.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.config.Publish.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType(key)),
		CacheControl:  aws.String(p.config.Publish.CacheControl),
	})
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Key returns the object key for a slash-separated path relative to the
// destination root.
func Key(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

var contentTypes = map[string]string{
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".map":  "application/json",
	".svg":  "image/svg+xml",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// ContentType returns the Content-Type for an object key.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
