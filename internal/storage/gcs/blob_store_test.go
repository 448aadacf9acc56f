package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestPutObjectWritesAndReturnsURI(t *testing.T) {
	t.Parallel()

	var (
		gotObject, gotType string
		writer             = &recordingWriter{}
	)
	store := newWithWriter("ir-raw", func(_ context.Context, object, contentType string) io.WriteCloser {
		gotObject, gotType = object, contentType
		return writer
	})

	uri, err := store.PutObject(context.Background(), "/raw/1/20240101T000000Z/page.html", "text/html", strings.NewReader("<html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://ir-raw/raw/1/20240101T000000Z/page.html", uri)
	require.Equal(t, "raw/1/20240101T000000Z/page.html", gotObject)
	require.Equal(t, "text/html", gotType)
	require.Equal(t, "<html>", writer.String())
	require.True(t, writer.closed)
	require.NoError(t, store.Close())
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	store := newWithWriter("b", func(context.Context, string, string) io.WriteCloser { return writer })

	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")

	_, err = store.PutObject(context.Background(), "docs/x.pdf", "", failingReader{})
	require.ErrorContains(t, err, "read failed")
	require.True(t, writer.closed)

	closing := &recordingWriter{closeErr: errors.New("upload rejected")}
	store = newWithWriter("b", func(context.Context, string, string) io.WriteCloser { return closing })
	_, err = store.PutObject(context.Background(), "docs/x.pdf", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "upload rejected")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "storage.bucket")
}
