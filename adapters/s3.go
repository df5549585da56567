package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/jellydator/ttlcache/v3"
)

const (
	s3CursorTTL      = 5 * time.Minute
	s3CursorCapacity = 1024
)

// S3Options configures the S3 (or S3 compatible) backend
type S3Options struct {
	Endpoint  string `json:"endpoint,omitempty"` // empty uses AWS
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	PageLimit int    `json:"page_limit"`
	// SessionLogin uses the session's username and password as the access
	// key pair instead of AccessKey and SecretKey
	SessionLogin bool `json:"session_login,omitempty"`
}

// S3Provider holds the client config shared by its backends
type S3Provider struct {
	opts   S3Options
	awsCfg aws.Config
	client *s3.Client
}

func newS3Provider(raw []byte) (wikifs.BackendProvider, error) {
	var opts S3Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewS3Provider(ctx, opts)
}

// NewS3Provider loads the AWS config. Static keys are used when set,
// otherwise the default credential chain.
func NewS3Provider(ctx context.Context, opts S3Options) (*S3Provider, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.S3Backend, Op: "open", Err: fmt.Errorf("load aws config: %w", err)}
	}

	p := &S3Provider{opts: opts, awsCfg: awsCfg}
	p.client = p.newClient(nil)
	return p, nil
}

func (p *S3Provider) newClient(creds aws.CredentialsProvider) *s3.Client {
	return s3.NewFromConfig(p.awsCfg, func(o *s3.Options) {
		if p.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.opts.Endpoint)
			o.UsePathStyle = true
		}
		if creds != nil {
			o.Credentials = creds
		}
	})
}

func (p *S3Provider) NewBackend() (wikifs.Backend, error) {
	// No janitor goroutine: expired cursors are ignored on Get and the
	// capacity bounds what is kept.
	cursors := ttlcache.New(
		ttlcache.WithTTL[continuationKey, string](s3CursorTTL),
		ttlcache.WithCapacity[continuationKey, string](s3CursorCapacity),
		ttlcache.WithDisableTouchOnHit[continuationKey, string](),
	)
	return &S3Backend{provider: p, client: p.client, cursors: cursors}, nil
}

// S3Backend implements [wikifs.Backend] with one object per key
type S3Backend struct {
	provider *S3Provider
	client   *s3.Client

	// last key of each served page, keyed by the offset that follows it
	cursors *ttlcache.Cache[continuationKey, string]
}

var _ wikifs.Backend = (*S3Backend)(nil)

func (b *S3Backend) Open(ctx context.Context, creds wikifs.Credentials) error {
	if !b.provider.opts.SessionLogin {
		return nil
	}
	logger := util.GetLogger("S3.Open")

	client := b.provider.newClient(credentials.NewStaticCredentialsProvider(creds.Username, creds.Password, ""))
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.provider.opts.Bucket)})
	if err != nil {
		if s3StatusCode(err) == http.StatusForbidden {
			logger.Debug().Str("user", creds.Username).Msg("Access key rejected")
			return &wikifs.AuthError{User: creds.Username, Reason: "access denied", Err: err}
		}
		return &wikifs.BackendError{Backend: config.S3Backend, Op: "open", Err: err}
	}
	b.client = client
	return nil
}

func (b *S3Backend) Close() error {
	b.cursors.DeleteAll()
	return nil
}

// Keys lists objects in key order. Prefix ranges are listed with a prefix
// filter; other ranges are filtered client side. A page that follows one
// served by this backend resumes after its last key; otherwise the listing
// is walked from the start and Offset keys are skipped.
func (b *S3Backend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	limit := b.provider.opts.PageLimit
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.provider.opts.Bucket)}
	if strings.TrimSuffix(r.End, wikifs.Sentinel) == r.Start {
		input.Prefix = aws.String(r.Start)
	}

	skip := r.Offset
	if skip > 0 {
		if item := b.cursors.Get(continuationKey{r.Start, r.End, r.Offset}); item != nil {
			input.StartAfter = aws.String(item.Value())
			skip = 0
		}
	}
	if skip == 0 && limit > 0 && input.Prefix != nil {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	keys := []string{}
	page := func() wikifs.KeyPage {
		if n := len(keys); n > 0 {
			b.cursors.Set(continuationKey{r.Start, r.End, r.Offset + n}, keys[n-1], ttlcache.DefaultTTL)
		}
		return wikifs.KeyPage{Keys: keys, Limit: limit}
	}

	pager := s3.NewListObjectsV2Paginator(b.client, input)
	for pager.HasMorePages() {
		out, err := pager.NextPage(ctx)
		if err != nil {
			return wikifs.KeyPage{}, &wikifs.BackendError{Backend: config.S3Backend, Op: "keys", Key: r.Start, Err: err}
		}
		for _, obj := range out.Contents {
			k := aws.ToString(obj.Key)
			if k < r.Start {
				continue
			}
			if k >= r.End {
				return page(), nil
			}
			if skip > 0 {
				skip--
				continue
			}
			keys = append(keys, k)
			if limit > 0 && len(keys) >= limit {
				return page(), nil
			}
		}
	}
	return page(), nil
}

func (b *S3Backend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.provider.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, &wikifs.BackendError{Backend: config.S3Backend, Op: "get", Key: key, Err: err}
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &wikifs.BackendError{Backend: config.S3Backend, Op: "get", Key: key, Err: err}
	}
	if value == nil {
		value = []byte{}
	}
	return &wikifs.Entry{Value: value, Modified: aws.ToTime(out.LastModified)}, nil
}

func (b *S3Backend) Set(ctx context.Context, key string, value []byte) error {
	var err error
	if value == nil {
		_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.provider.opts.Bucket),
			Key:    aws.String(key),
		})
	} else {
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.provider.opts.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(value),
			ContentLength: aws.Int64(int64(len(value))),
		})
	}
	if err != nil {
		return &wikifs.BackendError{Backend: config.S3Backend, Op: "set", Key: key, Err: err}
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	return s3StatusCode(err) == http.StatusNotFound
}

func s3StatusCode(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
