package object_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/minio/minio-go/v7"
	"go.uber.org/atomic"

	"github.com/fogfactory/flume"
	"github.com/fogfactory/flume/object"
)

// fakeClient serves objects from memory, with optional fault injection.
type fakeClient struct {
	objects    map[string][]byte
	probeFails int64 // BucketExists fails this many times before succeeding
	probes     atomic.Int64
	sizeLie    string // this key advertises a wrong size
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) {
	if f.probes.Inc() <= f.probeFails {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (f *fakeClient) ListObjects(ctx context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, k := range keys {
			info := minio.ObjectInfo{Key: k, Size: int64(len(f.objects[k]))}
			if k == f.sizeLie {
				info.Size += 5
			}
			select {
			case ch <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (f *fakeClient) GetObject(_ context.Context, _, name string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[name])), nil
}

func TestDriver(t *testing.T) {
	ctx := context.Background()

	t.Run("success_yields_payloads_in_key_order", func(t *testing.T) {
		// Arrange
		client := &fakeClient{objects: map[string][]byte{
			"train/b": []byte("bb"),
			"train/a": []byte("aa"),
			"eval/c":  []byte("cc"),
		}}
		driver := object.New(client, "datasets", "train/")

		// Act
		got, err := flume.From[[]byte](driver).Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, [][]byte{[]byte("aa"), []byte("bb")}, "prefix filtered, key ordered")
	})

	t.Run("transient_probe_failures_are_retried", func(t *testing.T) {
		// Arrange
		client := &fakeClient{objects: map[string][]byte{"k": []byte("v")}, probeFails: 2}
		driver := object.New(client, "datasets", "", object.Retries(3), object.ProbeInterval(1))

		// Act
		got, err := flume.From[[]byte](driver).Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, [][]byte{[]byte("v")})
		td.Cmp(t, client.probes.Load(), int64(3))
	})

	t.Run("unavailable_after_retries_are_exhausted", func(t *testing.T) {
		// Arrange
		client := &fakeClient{probeFails: 100}
		driver := object.New(client, "datasets", "", object.Retries(1), object.ProbeInterval(1))

		// Act
		_, err := driver.Open(ctx)

		// Assert
		td.CmpTrue(t, errors.Is(err, flume.ErrUnavailable))
		td.Cmp(t, client.probes.Load(), int64(2), "initial attempt plus one retry")
	})

	t.Run("size_mismatch_is_corrupt_and_resumable", func(t *testing.T) {
		// Arrange
		client := &fakeClient{
			objects: map[string][]byte{"a": []byte("ok"), "b": []byte("bad"), "c": []byte("ok too")},
			sizeLie: "b",
		}
		p := flume.From[[]byte](object.New(client, "datasets", ""), flume.OnCorrupt(flume.SkipCorrupt))

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, [][]byte{[]byte("ok"), []byte("ok too")})
	})

	t.Run("registry_factory_requires_a_bucket", func(t *testing.T) {
		// Arrange
		reg := flume.NewRegistry()
		td.Require(t).CmpNoError(object.Register(reg, &fakeClient{}))

		// Act
		_, err := reg.New("object", flume.Config{"prefix": "x"})

		// Assert
		td.CmpTrue(t, errors.Is(err, flume.ErrConfig))
	})
}
