// Package artifact persists synthesized audio to a blob bucket. Audio objects
// are content addressed. A request index maps the synthesis parameters of a
// finished job to its audio so a repeated request can skip the engine.
package artifact

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
)

var ErrNotFound = errors.New("artifact not found")

// Ref points at a stored audio object. The bytes themselves stay in the bucket.
type Ref struct {
	Key         string `json:"key"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type"`
	Format      string `json:"format"`
	Bytes       int    `json:"bytes"`
	SHA256      string `json:"sha256"`
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix inside the bucket.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithURLPrefix makes Put fill Ref.URL as prefix+key.
func WithURLPrefix(p string) Option {
	return func(s *Store) { s.urlPrefix = p }
}

// Store writes audio artifacts to a gocloud.dev bucket.
type Store struct {
	bucket    *blob.Bucket
	prefix    string
	urlPrefix string
}

// Open opens the bucket at url (file://, mem://, s3://, gs://, ...).
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", url, err)
	}
	s := &Store{bucket: b, prefix: "audio"}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Put stores audio for jobID and returns its reference. An object with the
// same content is reused.
func (s *Store) Put(ctx context.Context, jobID string, audio *engine.Audio) (Ref, error) {
	if audio == nil || len(audio.Data) == 0 {
		return Ref{}, errors.New("empty audio")
	}
	sum := sha256.Sum256(audio.Data)
	digest := hex.EncodeToString(sum[:])

	format := audio.Format
	if format == "" {
		format = "bin"
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = engine.ContentTypeFor(format)
	}
	key := path.Join(s.prefix, digest[:2], digest+"."+format)

	exists, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return Ref{}, fmt.Errorf("check %q: %w", key, err)
	}
	if !exists {
		err = s.bucket.WriteAll(ctx, key, audio.Data, &blob.WriterOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"job_id": jobID},
		})
		if err != nil {
			return Ref{}, fmt.Errorf("write %q: %w", key, err)
		}
	}

	ref := Ref{
		Key:         key,
		ContentType: contentType,
		Format:      format,
		Bytes:       len(audio.Data),
		SHA256:      digest,
	}
	if s.urlPrefix != "" {
		ref.URL = s.urlPrefix + key
	}
	return ref, nil
}

// Get reads an artifact and its content type.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("stat %q: %w", key, err)
	}
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("read %q: %w", key, err)
	}
	return data, attrs.ContentType, nil
}

// CacheHit is a request cache entry: where the audio lives and which engine
// produced it.
type CacheHit struct {
	Ref      Ref       `json:"ref"`
	Engine   string    `json:"engine"`
	Degraded bool      `json:"degraded"`
	StoredAt time.Time `json:"stored_at"`
}

// CacheKey derives the request cache key from the styled text and voice
// parameters.
func CacheKey(text, voice string, speed, pitch float64) string {
	data := text + "|" + voice + "|" +
		strconv.FormatFloat(speed, 'f', -1, 64) + "|" +
		strconv.FormatFloat(pitch, 'f', -1, 64)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (s *Store) indexKey(key string) string {
	return path.Join(s.prefix, "index", key+".json")
}

// Lookup returns the cache entry for key. An entry whose audio object is gone
// is a miss.
func (s *Store) Lookup(ctx context.Context, key string) (CacheHit, bool, error) {
	data, err := s.bucket.ReadAll(ctx, s.indexKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return CacheHit{}, false, nil
		}
		return CacheHit{}, false, fmt.Errorf("read index %q: %w", key, err)
	}
	var hit CacheHit
	if err := json.Unmarshal(data, &hit); err != nil {
		return CacheHit{}, false, fmt.Errorf("decode index %q: %w", key, err)
	}
	exists, err := s.bucket.Exists(ctx, hit.Ref.Key)
	if err != nil {
		return CacheHit{}, false, fmt.Errorf("check %q: %w", hit.Ref.Key, err)
	}
	return hit, exists, nil
}

// Remember records hit under key.
func (s *Store) Remember(ctx context.Context, key string, hit CacheHit) error {
	if hit.StoredAt.IsZero() {
		hit.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(hit)
	if err != nil {
		return err
	}
	err = s.bucket.WriteAll(ctx, s.indexKey(key), data, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write index %q: %w", key, err)
	}
	return nil
}

// TrimCache keeps the newest maxEntries index entries and deletes the rest
// together with their audio. It returns the number of entries removed.
func (s *Store) TrimCache(ctx context.Context, maxEntries int) (int, error) {
	type entry struct {
		key      string
		modified time.Time
	}
	var entries []entry
	iter := s.bucket.List(&blob.ListOptions{Prefix: path.Join(s.prefix, "index") + "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("list index: %w", err)
		}
		entries = append(entries, entry{key: obj.Key, modified: obj.ModTime})
	}
	over := len(entries) - maxEntries
	if over <= 0 {
		return 0, nil
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := a.modified.Compare(b.modified); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})

	removed := 0
	for _, e := range entries[:over] {
		data, err := s.bucket.ReadAll(ctx, e.key)
		if err == nil {
			var hit CacheHit
			if json.Unmarshal(data, &hit) == nil && hit.Ref.Key != "" {
				if err := s.bucket.Delete(ctx, hit.Ref.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
					return removed, fmt.Errorf("delete %q: %w", hit.Ref.Key, err)
				}
			}
		}
		if err := s.bucket.Delete(ctx, e.key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return removed, fmt.Errorf("delete %q: %w", e.key, err)
		}
		removed++
	}
	return removed, nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
