package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/taskvault/taskvault/internal/config"
	"github.com/taskvault/taskvault/internal/task"
)

// Metadata describes the remote document without its content.
type Metadata struct {
	// LastModified is the store's opaque consistency token (typically the
	// object's last-modified timestamp rendered as a string). Empty means
	// the store provides no token for the document; absence of the
	// document itself is signaled by a KindNotFound error, never by an
	// empty token.
	LastModified string
}

// Store is the narrow remote object-store interface the gateway consumes.
// The production binding talks to a cloud object store over HTTP
// (httpstore); the preferred-storage toggle binds it to a local folder
// (filestore) instead.
type Store interface {
	// Stat probes the document metadata without fetching content. A
	// missing document returns a KindNotFound error.
	Stat(ctx context.Context) (Metadata, error)

	// Read fetches the document content and its metadata. A missing
	// document returns a KindNotFound error.
	Read(ctx context.Context) ([]byte, Metadata, error)

	// Write atomically overwrites the document and returns the new
	// metadata.
	Write(ctx context.Context, data []byte) (Metadata, error)

	// WriteBlob stores an opaque binary under the photos folder and
	// returns its download URL.
	WriteBlob(ctx context.Context, name string, data []byte) (string, error)

	// BlobURL resolves a stored blob name to a download URL.
	BlobURL(ctx context.Context, name string) (string, error)

	// DeleteBlob removes a stored blob. Deleting an absent blob is not an
	// error.
	DeleteBlob(ctx context.Context, name string) error

	// ListBlobs lists the stored blob names (without the folder prefix).
	ListBlobs(ctx context.Context) ([]string, error)
}

// TokenSource hands out bearer tokens on demand. Implemented by the host
// application's auth provider; acquiring a token may trigger interactive
// re-authentication.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Document is the result of a gateway read.
type Document struct {
	Records []task.Record

	// LastModified is the consistency token the records were fetched at.
	// Empty when the remote document does not exist yet or when the
	// store attaches no token to it.
	LastModified string

	// Dropped counts records discarded by normalization, for telemetry.
	Dropped int

	// FromCache reports whether the read was served from the shared cache.
	FromCache bool
}

// BlobInfo describes an uploaded blob.
type BlobInfo struct {
	Name        string `json:"name"`
	DownloadURL string `json:"downloadURL"`
}

// Gateway wraps a Store with caching, normalization and the retry policy.
// Gateways are cheap; all instances share one process-scoped read cache.
type Gateway struct {
	store  Store
	cfg    *config.Config
	logger *log.Logger
	cache  *documentCache
	nowFn  func() time.Time
}

// NewGateway creates a gateway over the given store. A nil cfg uses the
// defaults; a nil logger writes to stderr.
func NewGateway(store Store, cfg *config.Config, logger *log.Logger) *Gateway {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	return &Gateway{
		store:  store,
		cfg:    cfg,
		logger: logger,
		cache:  sharedCache,
		nowFn:  time.Now,
	}
}

// ReadDocument returns the current remote document.
//
// It first probes the store metadata (bounded by the configured network
// timeout; on probe timeout it falls back to a direct content fetch). If
// the shared cache holds an entry fetched at exactly the probed token,
// the cached records are returned without a content fetch. An absent
// remote document yields an empty Document, not an error.
func (g *Gateway) ReadDocument(ctx context.Context) (*Document, error) {
	meta, err := g.probe(ctx)
	switch {
	case err == nil:
		// An empty token means the store attaches no consistency token
		// to a document that exists; only a content fetch can serve it.
		if meta.LastModified != "" {
			if recs, ok := g.cache.get(meta.LastModified); ok {
				return &Document{Records: recs, LastModified: meta.LastModified, FromCache: true}, nil
			}
		}
	case Classify(err) == KindNotFound:
		return &Document{Records: []task.Record{}}, nil
	case errors.Is(err, context.DeadlineExceeded):
		// Probe timed out; fall through to the direct fetch below.
		g.logger.Printf("metadata probe timed out after %s, fetching content directly", g.cfg.NetworkTimeout)
	default:
		return nil, err
	}

	return g.fetch(ctx)
}

// probe stats the document under the auxiliary-lookup timeout.
func (g *Gateway) probe(ctx context.Context) (Metadata, error) {
	probeCtx, cancel := context.WithTimeout(ctx, g.cfg.NetworkTimeout)
	defer cancel()

	var meta Metadata
	err := WithErrorHandling(probeCtx, "statDocument", CallOptions{}, g.logger, func(ctx context.Context) error {
		var statErr error
		meta, statErr = g.store.Stat(ctx)
		return statErr
	})
	return meta, err
}

// fetch reads, normalizes and caches the document content.
func (g *Gateway) fetch(ctx context.Context) (*Document, error) {
	var (
		data []byte
		meta Metadata
	)
	err := WithErrorHandling(ctx, "readDocument", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			var readErr error
			data, meta, readErr = g.store.Read(ctx)
			return readErr
		})
	if err != nil {
		if Classify(err) == KindNotFound {
			return &Document{Records: []task.Record{}}, nil
		}
		return nil, err
	}

	now := g.nowFn()
	recs, dropped, err := task.DecodeDocument(data, now.UnixMilli())
	if err != nil {
		return nil, NewError(KindUnknown, "readDocument", err)
	}
	if dropped > 0 {
		g.logger.Printf("normalization dropped %d malformed records", dropped)
	}

	if meta.LastModified != "" {
		g.cache.put(recs, meta.LastModified)
	}

	return &Document{Records: recs, LastModified: meta.LastModified, Dropped: dropped}, nil
}

// WriteDocument atomically overwrites the remote document with the given
// records (tombstones included) and returns the store's new consistency
// token. The shared cache is invalidated unconditionally, then re-seeded
// so an immediate same-process read is served without a content fetch.
func (g *Gateway) WriteDocument(ctx context.Context, records []task.Record) (string, error) {
	data, err := task.EncodeDocument(records)
	if err != nil {
		return "", NewError(KindUnknown, "writeDocument", err)
	}

	var meta Metadata
	err = WithErrorHandling(ctx, "writeDocument", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			var writeErr error
			meta, writeErr = g.store.Write(ctx, data)
			return writeErr
		})
	if err != nil {
		return "", err
	}

	g.cache.invalidate()
	if meta.LastModified != "" {
		g.cache.put(records, meta.LastModified)
	}

	return meta.LastModified, nil
}

// UploadBlob stores an opaque binary (a JPEG photo in practice) and
// returns its name and download URL. An empty suggestedName generates the
// canonical photo_<epochMs>_<random>.jpg form.
func (g *Gateway) UploadBlob(ctx context.Context, data []byte, suggestedName string) (BlobInfo, error) {
	name := suggestedName
	if name == "" {
		name = task.NewPhotoName(g.nowFn().UnixMilli())
	}

	var url string
	err := WithErrorHandling(ctx, "uploadBlob", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			var upErr error
			url, upErr = g.store.WriteBlob(ctx, name, data)
			return upErr
		})
	if err != nil {
		return BlobInfo{}, err
	}
	return BlobInfo{Name: name, DownloadURL: url}, nil
}

// GetBlobURL resolves a blob name to a download URL. Resolved URLs are
// held in a session cache for the configured fallback TTL; there is no
// consistency token for blobs, so time is the only invalidation signal.
func (g *Gateway) GetBlobURL(ctx context.Context, name string) (string, error) {
	now := g.nowFn()
	if url, ok := sharedURLCache.get(name, g.cfg.CacheTTL, now); ok {
		return url, nil
	}

	var url string
	err := WithErrorHandling(ctx, "getBlobURL", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			var urlErr error
			url, urlErr = g.store.BlobURL(ctx, name)
			return urlErr
		})
	if err != nil {
		return "", err
	}

	sharedURLCache.put(name, url, now)
	return url, nil
}

// DeleteBlob removes a stored blob and drops its cached URL.
func (g *Gateway) DeleteBlob(ctx context.Context, name string) error {
	err := WithErrorHandling(ctx, "deleteBlob", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			return g.store.DeleteBlob(ctx, name)
		})
	if err != nil {
		return err
	}
	sharedURLCache.remove(name)
	return nil
}

// ListBlobs lists the stored blob names.
func (g *Gateway) ListBlobs(ctx context.Context) ([]string, error) {
	var names []string
	err := WithErrorHandling(ctx, "listBlobs", CallOptions{Retry: true, MaxRetries: g.cfg.MaxRetries}, g.logger,
		func(ctx context.Context) error {
			var listErr error
			names, listErr = g.store.ListBlobs(ctx)
			return listErr
		})
	return names, err
}

// SweepOrphanedBlobs deletes every stored photo that no active record in
// doc references any longer. Returns the number of blobs removed.
func (g *Gateway) SweepOrphanedBlobs(ctx context.Context, doc []task.Record) (int, error) {
	names, err := g.ListBlobs(ctx)
	if err != nil {
		return 0, err
	}

	referenced := make(map[string]bool)
	for _, r := range task.ActiveOnly(doc) {
		for _, ref := range task.PhotoRefs(r.Text) {
			referenced[ref] = true
		}
	}

	removed := 0
	for _, name := range names {
		if referenced[task.PhotoFolder+"/"+name] {
			continue
		}
		if err := g.DeleteBlob(ctx, name); err != nil {
			return removed, fmt.Errorf("failed to sweep blob %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
