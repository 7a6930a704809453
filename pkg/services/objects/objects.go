// Package objects exposes an S3 bucket as a SyncOT service.
//
// Example usage:
//
//	client, err := objects.NewClient(ctx, objects.ClientConfig{Region: "eu-west-1"})
//	store := objects.New(client, "my-bucket", objects.WithPrefix("docs/"))
//	conn.RegisterService(store.Descriptor())
//
// The get request replies with a stream of []byte chunks, so large objects
// never have to fit in a single message.
package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
)

// Name is the name the service registers under.
const Name = "objects"

// DefaultChunkSize is the size of the chunks get streams.
const DefaultChunkSize = 64 << 10

// Requests lists the requests the service answers.
var Requests = []string{"get", "put", "list", "delete", "stat"}

// Errors returned by the service.
var (
	ErrNotFound   = errors.New("objects: not found")
	ErrInvalidKey = errors.New("objects: invalid key")
	ErrTooLarge   = errors.New("objects: object too large")
)

// API is the subset of the S3 client the service uses. *s3.Client
// implements it.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ API = (*s3.Client)(nil)

// Error reports a failed object operation. It crosses the wire with the name
// "ObjectNotFound" for missing objects and "ObjectError" otherwise.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("objects: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorName implements tson.NamedError.
func (e *Error) ErrorName() string {
	if errors.Is(e.Err, ErrNotFound) {
		return "ObjectNotFound"
	}
	return "ObjectError"
}

// Store serves objects from one bucket.
type Store struct {
	client    API
	bucket    string
	prefix    string
	chunkSize int
	maxSize   int64
	log       zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix scopes every key under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithChunkSize sets the size of streamed chunks.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMaxSize limits the size of objects accepted by put (0 = no limit).
func WithMaxSize(n int64) Option {
	return func(s *Store) {
		s.maxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a Store for bucket.
func New(client API, bucket string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		bucket:    bucket,
		chunkSize: DefaultChunkSize,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor returns the service descriptor for registration.
func (s *Store) Descriptor() connection.Service {
	return connection.Service{
		Name:     Name,
		Requests: Requests,
		Instance: s,
	}
}

func (s *Store) key(op, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", &Error{Op: op, Key: key, Err: ErrInvalidKey}
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", &Error{Op: op, Key: key, Err: ErrInvalidKey}
		}
	}
	return s.prefix + key, nil
}

func wrap(op, key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &Error{Op: op, Key: key, Err: err}
}

// Get opens key and returns a stream of its content in chunks. The stream
// ends after the last chunk.
func (s *Store) Get(ctx context.Context, key string) (*connection.Stream, error) {
	full, err := s.key("get", key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, wrap("get", key, err)
	}

	stream := connection.NewStream()
	go s.send(stream, key, out.Body)
	go drain(stream)
	return stream, nil
}

func (s *Store) send(stream *connection.Stream, key string, body io.ReadCloser) {
	defer body.Close()
	buf := make([]byte, s.chunkSize)
	total := 0
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := stream.Write(chunk); werr != nil {
				s.log.Debug().Err(werr).Str("key", key).Msg("get stream closed early")
				return
			}
			total += n
		}
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			s.log.Debug().Str("key", key).Int("bytes", total).Msg("get complete")
			stream.End()
			return
		case err != nil:
			s.log.Warn().Err(err).Str("key", key).Msg("get read failed")
			stream.Destroy(wrap("get", key, err))
			return
		}
	}
}

// drain discards input so the stream can close once the reader ends its
// side.
func drain(stream *connection.Stream) {
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

// Put stores data under key and returns the number of bytes written.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (int, error) {
	full, err := s.key("put", key)
	if err != nil {
		return 0, err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return 0, &Error{Op: "put", Key: key, Err: ErrTooLarge}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return 0, wrap("put", key, err)
	}
	return len(data), nil
}

// List returns the keys under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	})

	keys := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}
	}
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.key("delete", key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// Info describes a stored object.
type Info struct {
	Key          string `tson:"key"`
	Size         int64  `tson:"size"`
	ContentType  string `tson:"content_type"`
	ETag         string `tson:"etag,omitempty"`
	LastModified string `tson:"last_modified,omitempty"`
}

// Stat returns the metadata of key.
func (s *Store) Stat(ctx context.Context, key string) (*Info, error) {
	full, err := s.key("stat", key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, wrap("stat", key, err)
	}

	info := &Info{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.UTC().Format(time.RFC3339)
	}
	return info, nil
}
