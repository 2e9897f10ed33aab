// internal/store/blobs.go
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
)

// zstd frame magic; content below this size is stored raw.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

const compressMinSize = 1024

// BlobStore holds content-addressed file data in badger, zstd-compressed
// above a size threshold, with an LRU cache in front.
type BlobStore struct {
	db    *badger.DB
	cache *lru.Cache[BlobID, []byte]

	encoders sync.Pool
	decoders sync.Pool
}

func NewBlobStore(db *badger.DB, cacheSize int) (*BlobStore, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[BlobID, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}

	return &BlobStore{
		db:    db,
		cache: cache,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.SpeedDefault),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
				)
				return dec
			},
		},
	}, nil
}

func blobKey(id BlobID) []byte {
	return []byte(fmt.Sprintf("blob:%s", id))
}

// Write stores content and returns its id. Writing the same bytes twice is a
// no-op returning the same id.
func (s *BlobStore) Write(content []byte) (BlobID, error) {
	if content == nil {
		content = []byte{}
	}
	id := BlobID(hashBytes("blob", content))

	stored := content
	if len(content) >= compressMinSize {
		enc := s.encoders.Get().(*zstd.Encoder)
		stored = enc.EncodeAll(content, nil)
		s.encoders.Put(enc)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := blobKey(id)
		if _, err := txn.Get(key); err == nil {
			return nil // already present
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, stored)
	})
	if err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	s.cache.Add(id, content)
	return id, nil
}

// Read returns the content for id, or ErrBlobNotFound.
func (s *BlobStore) Read(id BlobID) ([]byte, error) {
	if content, ok := s.cache.Get(id); ok {
		return content, nil
	}

	var stored []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id))
		if err != nil {
			return err
		}
		stored, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	content := stored
	if len(stored) > 4 && bytes.Equal(stored[:4], zstdMagic) {
		dec := s.decoders.Get().(*zstd.Decoder)
		content, err = dec.DecodeAll(stored, nil)
		s.decoders.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
	}

	s.cache.Add(id, content)
	return content, nil
}
