// Package store persists the raw bytes of the loaded files so a session can
// be restored later. Records are kept in a bbolt file, one per input file,
// keyed by an auto-increment id.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfdeck/observability"
)

var (
	// ErrDigestMismatch marks a record whose bytes no longer hash to the
	// digest recorded at save time.
	ErrDigestMismatch = errors.New("store: digest mismatch")
	ErrClosed         = errors.New("store: closed")
)

var (
	metaBucket = []byte("files")
	blobBucket = []byte("blobs")
)

// File is one file to persist.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Record is a persisted file.
type Record struct {
	ID      uint64
	Name    string
	MIME    string
	Data    []byte
	Digest  [blake2b.Size256]byte
	SavedAt time.Time
}

// Store is the persistence contract of a session.
type Store interface {
	// Save replaces every stored record with files, in order.
	Save(ctx context.Context, files []File) error
	// Files returns the stored records in id order.
	Files(ctx context.Context) ([]Record, error)
	Clear(ctx context.Context) error
	Close() error
}

type meta struct {
	Name    string    `json:"name"`
	MIME    string    `json:"mime,omitempty"`
	Size    int       `json:"size"`
	Digest  []byte    `json:"digest"`
	SavedAt time.Time `json:"saved_at"`
}

// BoltStore implements Store on a bbolt database file.
type BoltStore struct {
	db     *bolt.DB
	log    observability.Logger
	tracer observability.Tracer
	now    func() time.Time
}

type Option func(*BoltStore)

func WithLogger(l observability.Logger) Option {
	return func(s *BoltStore) { s.log = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option {
	return func(s *BoltStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Open opens or creates the database at path. A second process holding the
// file makes Open fail after a short timeout instead of blocking.
func Open(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	s := &BoltStore{db: db, log: observability.NopLogger{}, tracer: observability.NopTracer(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BoltStore) Save(ctx context.Context, files []File) error {
	_, span := s.tracer.StartSpan(ctx, observability.SpanStoreSave)
	defer span.Finish()
	span.SetTag("files", len(files))

	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := resetBuckets(tx); err != nil {
			return err
		}
		metas, blobs := tx.Bucket(metaBucket), tx.Bucket(blobBucket)
		for _, f := range files {
			id, err := metas.NextSequence()
			if err != nil {
				return err
			}
			sum := blake2b.Sum256(f.Data)
			m, err := json.Marshal(meta{Name: f.Name, MIME: f.MIME, Size: len(f.Data), Digest: sum[:], SavedAt: now})
			if err != nil {
				return err
			}
			key := itob(id)
			if err := metas.Put(key, m); err != nil {
				return err
			}
			if err := blobs.Put(key, f.Data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("save session: %w", err)
	}
	s.log.Debug("session saved", observability.Int("files", len(files)))
	return nil
}

// Files returns the stored records. Records failing the digest check are
// skipped with a warning.
func (s *BoltStore) Files(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		metas, blobs := tx.Bucket(metaBucket), tx.Bucket(blobBucket)
		if metas == nil || blobs == nil {
			return nil
		}
		return metas.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(k, v, blobs.Get(k))
			if err != nil {
				s.log.Warn("stored file skipped", observability.Int64("id", int64(btoi(k))), observability.Error("error", err))
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return out, nil
}

func decodeRecord(k, m, blob []byte) (Record, error) {
	var md meta
	if err := json.Unmarshal(m, &md); err != nil {
		return Record{}, fmt.Errorf("decode metadata: %w", err)
	}
	if blob == nil {
		return Record{}, fmt.Errorf("%w: missing content", ErrDigestMismatch)
	}
	sum := blake2b.Sum256(blob)
	if !bytes.Equal(sum[:], md.Digest) {
		return Record{}, fmt.Errorf("%w: %s", ErrDigestMismatch, md.Name)
	}
	// bbolt values are only valid inside the transaction
	data := append([]byte(nil), blob...)
	return Record{ID: btoi(k), Name: md.Name, MIME: md.MIME, Data: data, Digest: sum, SavedAt: md.SavedAt}, nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(resetBuckets); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// resetBuckets drops and recreates both buckets, which also restarts the id
// sequence.
func resetBuckets(tx *bolt.Tx) error {
	for _, name := range [][]byte{metaBucket, blobBucket} {
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		if _, err := tx.CreateBucket(name); err != nil {
			return err
		}
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
