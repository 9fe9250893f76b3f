// Package object reads records from an object storage bucket through the
// minio client. Each object under a prefix becomes one []byte item.
package object

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	"github.com/fogfactory/flume"
)

// Client is the narrow slice of the object store API the driver needs. Wrap a
// real connection with FromMinio; tests plug a fake.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, name string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

// FromMinio adapts a minio client to the Client interface.
func FromMinio(c *minio.Client) Client { return minioClient{c: c} }

type minioClient struct {
	c *minio.Client
}

func (m minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.c.BucketExists(ctx, bucket)
}

func (m minioClient) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return m.c.ListObjects(ctx, bucket, opts)
}

func (m minioClient) GetObject(ctx context.Context, bucket, name string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return m.c.GetObject(ctx, bucket, name, opts)
}

// Driver lists a bucket prefix lazily and yields object payloads. Restartable:
// each Open starts a fresh listing.
type Driver struct {
	client   Client
	bucket   string
	prefix   string
	retries  uint64
	interval time.Duration
}

// Option tunes the driver.
type Option func(*Driver)

// Retries caps the connection probe retries at Open. Default 4.
func Retries(n uint64) Option { return func(d *Driver) { d.retries = n } }

// ProbeInterval sets the initial backoff interval between probes.
func ProbeInterval(d time.Duration) Option { return func(drv *Driver) { drv.interval = d } }

// New builds a driver over bucket/prefix.
func New(client Client, bucket, prefix string, opts ...Option) *Driver {
	d := &Driver{client: client, bucket: bucket, prefix: prefix, retries: 4}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Restartable() bool { return true }

// Open probes the bucket with exponential backoff before listing. Retry lives
// here: the pipeline core never retries on its own.
func (d *Driver) Open(ctx context.Context) (flume.Iterator[[]byte], error) {
	probe := func() error {
		ok, err := d.client.BucketExists(ctx, d.bucket)
		if err != nil {
			return err
		}
		if !ok {
			return backoff.Permanent(errors.Errorf("bucket %q does not exist", d.bucket))
		}
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	if d.interval > 0 {
		exp.InitialInterval = d.interval
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, d.retries), ctx)
	if err := backoff.Retry(probe, bo); err != nil {
		return nil, errors.Wrapf(flume.ErrUnavailable, "bucket %q: %v", d.bucket, err)
	}
	lctx, cancel := context.WithCancel(ctx)
	infos := d.client.ListObjects(lctx, d.bucket, minio.ListObjectsOptions{Prefix: d.prefix, Recursive: true})
	return &iterator{ctx: lctx, cancel: cancel, client: d.client, bucket: d.bucket, infos: infos}, nil
}

type iterator struct {
	ctx    context.Context
	cancel context.CancelFunc
	client Client
	bucket string
	infos  <-chan minio.ObjectInfo
	done   bool
}

func (it *iterator) Next() ([]byte, error) {
	if it.done {
		return nil, io.EOF
	}
	select {
	case <-it.ctx.Done():
		return nil, it.ctx.Err()
	case info, ok := <-it.infos:
		if !ok {
			it.done = true
			return nil, io.EOF
		}
		if info.Err != nil {
			it.done = true
			return nil, errors.Wrapf(flume.ErrUnavailable, "list %q: %v", it.bucket, info.Err)
		}
		// bad objects are resumable: the next pull moves on to the next key
		return it.fetch(info)
	}
}

func (it *iterator) fetch(info minio.ObjectInfo) ([]byte, error) {
	obj, err := it.client.GetObject(it.ctx, it.bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(flume.ErrCorrupt, "get %s: %v", info.Key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrapf(flume.ErrCorrupt, "read %s: %v", info.Key, err)
	}
	if info.Size > 0 && int64(len(data)) != info.Size {
		return nil, errors.Wrapf(flume.ErrCorrupt, "object %s: got %d bytes, want %d", info.Key, len(data), info.Size)
	}
	return data, nil
}

// Close cancels the listing, which also unblocks a pending Next.
func (it *iterator) Close() error {
	it.done = true
	it.cancel()
	return nil
}

// Register adds the "object" backend to a registry, bound to the given
// client. Config keys: "bucket" (string, required), "prefix" (string).
func Register(r *flume.Registry, c Client) error {
	return r.Register("object", func(cfg flume.Config) (flume.Driver[any], error) {
		bucket, _ := cfg["bucket"].(string)
		if bucket == "" {
			return nil, errors.Wrap(flume.ErrConfig, "object driver needs a bucket")
		}
		prefix, _ := cfg["prefix"].(string)
		return flume.Erase[[]byte](New(c, bucket, prefix)), nil
	})
}
