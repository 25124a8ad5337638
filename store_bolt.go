package dynts

import (
	"bytes"
	"context"
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

var (
	chunksBucket    = []byte("chunks")
	manifestsBucket = []byte("manifests")
)

type BoltOptions struct {
	Timeout   time.Duration
	IsTesting bool
	MmapSize  int
}

// BoltStore keeps chunk records in a local Bolt file, one framed value per
// (chunk id, secondary index).
type BoltStore struct {
	bdb   *bbolt.DB
	owned bool
}

var (
	_ ManifestStore = (*BoltStore)(nil)
	_ Lister        = (*BoltStore)(nil)
)

func OpenBolt(path string, opt BoltOptions) (*BoltStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("dynts: %w", err)
	}
	s, err := NewBoltStore(bdb)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewBoltStore uses an already open Bolt database. Close does not close it.
func NewBoltStore(bdb *bbolt.DB) (*BoltStore, error) {
	err := bdb.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, manifestsBucket} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dynts: preparing buckets: %w", err)
	}
	return &BoltStore{bdb: bdb}, nil
}

func (s *BoltStore) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *BoltStore) Close() error {
	if !s.owned {
		return nil
	}
	s.owned = false
	return s.bdb.Close()
}

func (s *BoltStore) Get(ctx context.Context, primaryKey, secondaryKey string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	kbuf := keyBytesPool.Get().([]byte)
	defer releaseKeyBytes(kbuf)
	key := chunkKey(kbuf, primaryKey, secondaryKey)

	var raw []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(chunksBucket).Get(key)
		if v == nil {
			return fmt.Errorf("%s/%s: %w", primaryKey, secondaryKey, ErrNotFound)
		}
		raw = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(raw)
}

func (s *BoltStore) Put(ctx context.Context, primaryKey, secondaryKey string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kbuf := keyBytesPool.Get().([]byte)
	defer releaseKeyBytes(kbuf)
	vbuf := recordBytesPool.Get().([]byte)
	defer releaseRecordBytes(vbuf)

	key := chunkKey(kbuf, primaryKey, secondaryKey)
	val := appendRecord(vbuf, rfDefault, rec)
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(chunksBucket).Put(key, val)
	})
}

func (s *BoltStore) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		c := btx.Bucket(chunksBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, sk, err := parseChunkKey(k)
			if err != nil {
				return dataErrf(bytes.Clone(k), 0, err, "invalid key in %s", chunksBucket)
			}
			keys = append(keys, Key{p, sk})
		}
		return nil
	})
	return keys, err
}

func (s *BoltStore) GetManifest(ctx context.Context, hypertable string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(manifestsBucket).Get(unsafeBytesFromString(hypertable))
		if v == nil {
			return fmt.Errorf("manifest %s: %w", hypertable, ErrNotFound)
		}
		data = bytes.Clone(v)
		return nil
	})
	return data, err
}

func (s *BoltStore) PutManifest(ctx context.Context, hypertable string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(manifestsBucket).Put([]byte(hypertable), data)
	})
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
