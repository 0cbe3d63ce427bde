package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"nebulaktv/core/registry"
	"nebulaktv/internal/testsupport"
	"nebulaktv/model"
	"nebulaktv/storage"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend tracks open handles so tests can check they are released.
type countingBackend struct {
	storage.Backend
	open atomic.Int64
}

type countedReader struct {
	io.ReadCloser
	b *countingBackend
}

func (c *countedReader) Close() error {
	c.b.open.Add(-1)
	return c.ReadCloser.Close()
}

func (b *countingBackend) OpenForRead(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	rc, err := b.Backend.OpenForRead(ctx, p, offset)
	if err != nil {
		return nil, err
	}
	b.open.Add(1)
	return &countedReader{ReadCloser: rc, b: b}, nil
}

type fixture struct {
	engine  *Engine
	backend *countingBackend
	fs      afero.Fs
	reg     *registry.Registry
	data    []byte
	asset   *model.MediaAsset
}

func newFixture(t *testing.T, size int) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	data := testsupport.Pattern(size)
	testsupport.WriteFile(t, fs, "processed/s1/song_inst.mp3", data)

	reg := registry.New(testsupport.NewAssetStore())
	asset, err := reg.Register(context.Background(), uuid.New(), model.KindInstrumentalAudio, "processed/s1/song_inst.mp3", model.AssetMeta{})
	require.NoError(t, err)

	backend := &countingBackend{Backend: storage.NewLocalFs(fs)}
	return &fixture{
		engine:  NewEngine(reg, backend, 1024),
		backend: backend,
		fs:      fs,
		reg:     reg,
		data:    data,
		asset:   asset,
	}
}

func (f *fixture) serve(t *testing.T, method, rangeSpec string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/stream/"+f.asset.ID.String(), nil)
	if rangeSpec != "" {
		req.Header.Set("Range", rangeSpec)
	}
	res, err := f.engine.Resolve(req.Context(), f.asset.ID)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	serveErr := f.engine.Serve(rec, req, res)
	assert.Equal(t, int64(0), f.backend.open.Load(), "storage handle leaked")
	return rec, serveErr
}

func TestServeFullContent(t *testing.T) {
	f := newFixture(t, 10000)
	rec, err := f.serve(t, http.MethodGet, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "10000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, f.data, rec.Body.Bytes())
}

func TestServePartialContent(t *testing.T) {
	f := newFixture(t, 10000)
	cases := []struct {
		spec       string
		start, end int
	}{
		{"bytes=0-1023", 0, 1023},
		{"bytes=5000-", 5000, 9999},
		{"bytes=-500", 9500, 9999},
		{"bytes=0-99999", 0, 9999},
		{"bytes=1500-4700", 1500, 4700},
	}
	for _, c := range cases {
		t.Run(c.spec, func(t *testing.T) {
			rec, err := f.serve(t, http.MethodGet, c.spec)
			require.NoError(t, err)

			assert.Equal(t, http.StatusPartialContent, rec.Code)
			assert.Equal(t, ByteRange{Start: int64(c.start), End: int64(c.end)}.ContentRange(10000), rec.Header().Get("Content-Range"))
			assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
			assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
			assert.Equal(t, strconv.Itoa(c.end-c.start+1), rec.Header().Get("Content-Length"))
			assert.Equal(t, f.data[c.start:c.end+1], rec.Body.Bytes())
		})
	}
}

func TestServeUnsatisfiableRange(t *testing.T) {
	f := newFixture(t, 10000)
	for _, spec := range []string{"bytes=1000-500", "bytes=20000-", "bytes=0-1,4-5", "items=0-5"} {
		rec, err := f.serve(t, http.MethodGet, spec)
		assert.Error(t, err)
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code, spec)
		assert.Equal(t, "bytes */10000", rec.Header().Get("Content-Range"))
		assert.Zero(t, rec.Body.Len())
	}
}

func TestServeHeadHasHeadersOnly(t *testing.T) {
	f := newFixture(t, 4096)
	rec, err := f.serve(t, http.MethodHead, "bytes=0-10")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4096", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestServeEmptyFile(t *testing.T) {
	f := newFixture(t, 0)
	rec, err := f.serve(t, http.MethodGet, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))

	rec, err = f.serve(t, http.MethodGet, "bytes=0-")
	assert.ErrorIs(t, err, ErrUnsatisfiableRange)
	assert.Equal(t, "bytes */0", rec.Header().Get("Content-Range"))
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.engine.Resolve(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	require.NoError(t, f.fs.Remove("processed/s1/song_inst.mp3"))
	_, err = f.engine.Resolve(ctx, f.asset.ID)
	assert.ErrorIs(t, err, ErrSourceMissing)
}

type failingWriter struct {
	httptest.ResponseRecorder
	after int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("client went away")
	}
	w.after--
	return len(p), nil
}

func TestServeReleasesHandleOnClientDisconnect(t *testing.T) {
	f := newFixture(t, 10000)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	res, err := f.engine.Resolve(req.Context(), f.asset.ID)
	require.NoError(t, err)

	w := &failingWriter{ResponseRecorder: *httptest.NewRecorder(), after: 2}
	err = f.engine.Serve(w, req, res)
	var werr *WriteError
	assert.ErrorAs(t, err, &werr)
	assert.Equal(t, int64(0), f.backend.open.Load())
}

func TestServeStopsWhenRequestCancelled(t *testing.T) {
	f := newFixture(t, 10000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	res, err := f.engine.ResolveAsset(context.Background(), f.asset)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = f.engine.Serve(rec, req, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), f.backend.open.Load())
}

func TestChunkReaderBoundsChunks(t *testing.T) {
	data := testsupport.Pattern(5000)
	fs := afero.NewMemMapFs()
	testsupport.WriteFile(t, fs, "a.mp3", data)
	rc, err := storage.NewLocalFs(fs).OpenForRead(context.Background(), "a.mp3", 100)
	require.NoError(t, err)

	cr := newChunkReader(rc, 3000, 1024)
	defer cr.Close()

	var sizes []int
	var got []byte
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}
	assert.Equal(t, []int{1024, 1024, 952}, sizes)
	assert.Equal(t, data[100:3100], got)

	_, err = cr.Next()
	assert.Equal(t, io.EOF, err, "reader is forward-only")
}

func TestChunkReaderDetectsTruncatedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	testsupport.WriteFile(t, fs, "short.mp3", testsupport.Pattern(100))
	rc, err := storage.NewLocalFs(fs).OpenForRead(context.Background(), "short.mp3", 0)
	require.NoError(t, err)

	cr := newChunkReader(rc, 200, 64)
	defer cr.Close()
	_, err = cr.CopyTo(context.Background(), io.Discard)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
