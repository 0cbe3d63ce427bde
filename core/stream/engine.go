// Package stream serves registered media files over HTTP with byte-exact
// Range support.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"nebulaktv/logger"
	"nebulaktv/model"
	"nebulaktv/repository"
	"nebulaktv/storage"

	"github.com/google/uuid"
)

// DefaultChunkSize 每次从存储读取的字节数
const DefaultChunkSize = 8 * 1024

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrSourceMissing    = errors.New("artifact file missing from storage")
)

// AssetResolver looks up asset records by id.
type AssetResolver interface {
	Get(ctx context.Context, assetID uuid.UUID) (*model.MediaAsset, error)
}

// Resource is an asset resolved to a readable file.
type Resource struct {
	Asset       *model.MediaAsset
	Size        int64
	ContentType string
}

// Engine 将资源记录解析为存储中的文件并按 Range 输出
type Engine struct {
	assets    AssetResolver
	store     storage.Backend
	chunkSize int
}

func NewEngine(assets AssetResolver, store storage.Backend, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{assets: assets, store: store, chunkSize: chunkSize}
}

// Resolve finds the asset and stats its file.
func (e *Engine) Resolve(ctx context.Context, assetID uuid.UUID) (*Resource, error) {
	asset, err := e.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return e.ResolveAsset(ctx, asset)
}

// Asset loads the record only, without touching storage.
func (e *Engine) Asset(ctx context.Context, assetID uuid.UUID) (*model.MediaAsset, error) {
	asset, err := e.assets.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, assetID)
		}
		return nil, err
	}
	return asset, nil
}

// ResolveAsset stats the file behind an already loaded record.
func (e *Engine) ResolveAsset(ctx context.Context, asset *model.MediaAsset) (*Resource, error) {
	if asset == nil {
		return nil, ErrArtifactNotFound
	}
	ok, err := e.store.Exists(ctx, asset.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, asset.Path)
	}
	size, err := e.store.Size(ctx, asset.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, asset.Path)
		}
		return nil, err
	}
	return &Resource{
		Asset:       asset,
		Size:        size,
		ContentType: ContentTypeFor(asset.Path),
	}, nil
}

// Open returns a chunked reader over exactly the bytes of br.
func (e *Engine) Open(ctx context.Context, res *Resource, br ByteRange) (*ChunkReader, error) {
	rc, err := e.store.OpenForRead(ctx, res.Asset.Path, br.Start)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, res.Asset.Path)
		}
		return nil, err
	}
	return newChunkReader(rc, br.Length(), e.chunkSize), nil
}

// Serve writes the reply for a GET or HEAD on res. Errors returned after the
// status line has been written are only worth logging.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, res *Resource) error {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	rangeSpec := r.Header.Get("Range")
	if r.Method == http.MethodHead || rangeSpec == "" {
		h.Set("Content-Type", res.ContentType)
		h.Set("Content-Length", strconv.FormatInt(res.Size, 10))
		if r.Method == http.MethodHead || res.Size == 0 {
			w.WriteHeader(http.StatusOK)
			return nil
		}
		return e.serveRange(w, r, res, ByteRange{Start: 0, End: res.Size - 1}, http.StatusOK)
	}

	br, err := ParseRange(rangeSpec, res.Size)
	if err != nil {
		var rerr *RangeError
		if errors.As(err, &rerr) {
			h.Set("Content-Range", rerr.ContentRange())
		}
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return err
	}

	h.Set("Content-Type", res.ContentType)
	h.Set("Content-Range", br.ContentRange(res.Size))
	h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	return e.serveRange(w, r, res, br, http.StatusPartialContent)
}

func (e *Engine) serveRange(w http.ResponseWriter, r *http.Request, res *Resource, br ByteRange, status int) error {
	reader, err := e.Open(r.Context(), res, br)
	if err != nil {
		// 尚未写状态行，交给调用方返回 404/500
		w.Header().Del("Content-Length")
		w.Header().Del("Content-Range")
		return err
	}
	defer reader.Close()

	w.WriteHeader(status)
	n, err := reader.CopyTo(r.Context(), w)
	if err != nil {
		logger.Debug("流传输中断",
			logger.Stringer("assetId", res.Asset.ID),
			logger.Int64("sent", n),
			logger.Int64("want", br.Length()),
			logger.ErrorField(err))
		return &WriteError{Err: err}
	}
	return nil
}

// WriteError reports a failure after the response has started.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "stream write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// ChunkReader yields a fixed window of a file in bounded chunks. It is
// forward-only and cannot be rewound.
type ChunkReader struct {
	rc        io.ReadCloser
	remaining int64
	buf       []byte
	closed    bool
}

func newChunkReader(rc io.ReadCloser, length int64, chunkSize int) *ChunkReader {
	return &ChunkReader{rc: rc, remaining: length, buf: make([]byte, chunkSize)}
}

// Next returns the next chunk, or io.EOF once the window is exhausted.
// The returned slice is only valid until the following call.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.closed {
		return nil, errors.New("chunk reader closed")
	}
	if c.remaining <= 0 {
		return nil, io.EOF
	}
	want := int64(len(c.buf))
	if c.remaining < want {
		want = c.remaining
	}
	n, err := io.ReadFull(c.rc, c.buf[:want])
	c.remaining -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// 文件比登记时短
			err = io.ErrUnexpectedEOF
		}
		return c.buf[:n], err
	}
	return c.buf[:n], nil
}

// CopyTo copies the remaining chunks to w, stopping early if ctx ends.
func (c *ChunkReader) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk, err := c.Next()
		if len(chunk) > 0 {
			n, werr := w.Write(chunk)
			written += int64(n)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// Close releases the storage handle. It is safe to call more than once.
func (c *ChunkReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rc.Close()
}
