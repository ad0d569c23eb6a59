package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketIndexedPrefix = "idx:" // one bucket per namespace, sub-keyed worker+index
	bucketKVPrefix      = "kv:"  // one bucket per KV namespace
	bucketBlobs         = []byte("blobs")
	bucketComponents    = []byte("components")
	bucketComponentFile = []byte("component_files")
)

// BoltStore implements IndexedStore, KVStore, BlobStore and
// ComponentObjectStore on a single BoltDB file, following the
// bucket-per-entity-type layout used throughout this codebase's other
// persistence code.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed store rooted at
// dataDir/golem.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "golem.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketComponents, bucketComponentFile} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- IndexedStore ---
//
// Keys within an indexed bucket are "{worker}\x00{big-endian uint64 index}"
// so that a bucket cursor gives ordered iteration per worker for free and
// Closest is a single Cursor.Seek.

func indexedBucketName(namespace string) []byte {
	return []byte(bucketIndexedPrefix + namespace)
}

func indexedKey(worker string, index int64) []byte {
	b := make([]byte, len(worker)+1+8)
	copy(b, worker)
	b[len(worker)] = 0
	binary.BigEndian.PutUint64(b[len(worker)+1:], uint64(index))
	return b
}

func workerPrefix(worker string) []byte {
	b := make([]byte, len(worker)+1)
	copy(b, worker)
	b[len(worker)] = 0
	return b
}

func decodeIndexedKey(k []byte) (worker string, index int64) {
	i := strings.IndexByte(string(k), 0)
	if i < 0 {
		return "", 0
	}
	worker = string(k[:i])
	index = int64(binary.BigEndian.Uint64(k[i+1:]))
	return worker, index
}

func (s *BoltStore) indexedBucket(tx *bolt.Tx, namespace string, create bool) (*bolt.Bucket, error) {
	name := indexedBucketName(namespace)
	if create {
		return tx.CreateBucketIfNotExists(name)
	}
	return tx.Bucket(name), nil
}

func (s *BoltStore) Append(ctx context.Context, namespace, worker string, value []byte) (int64, error) {
	var index int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, true)
		if err != nil {
			return err
		}
		last, ok, err := lastInBucket(b, worker)
		if err != nil {
			return err
		}
		if ok {
			index = last.Index + 1
		} else {
			index = 1
		}
		return b.Put(indexedKey(worker, index), value)
	})
	return index, err
}

func (s *BoltStore) AppendBatch(ctx context.Context, namespace, worker string, values [][]byte) ([]int64, error) {
	indices := make([]int64, 0, len(values))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, true)
		if err != nil {
			return err
		}
		last, ok, err := lastInBucket(b, worker)
		if err != nil {
			return err
		}
		index := int64(1)
		if ok {
			index = last.Index + 1
		}
		for _, value := range values {
			if err := b.Put(indexedKey(worker, index), value); err != nil {
				return err
			}
			indices = append(indices, index)
			index++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return indices, nil
}

func lastInBucket(b *bolt.Bucket, worker string) (IndexedEntry, bool, error) {
	if b == nil {
		return IndexedEntry{}, false, nil
	}
	prefix := workerPrefix(worker)
	c := b.Cursor()
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1] = 1 // byte just after the 0 worker/index separator
	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !strings.HasPrefix(string(k), string(prefix)) {
		return IndexedEntry{}, false, nil
	}
	_, idx := decodeIndexedKey(k)
	val := make([]byte, len(v))
	copy(val, v)
	return IndexedEntry{Worker: worker, Index: idx, Value: val}, true, nil
}

func (s *BoltStore) Read(ctx context.Context, namespace, worker string, from int64, count int) ([]IndexedEntry, error) {
	var entries []IndexedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		start := indexedKey(worker, from)
		prefix := workerPrefix(worker)
		for k, v := c.Seek(start); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			_, idx := decodeIndexedKey(k)
			val := make([]byte, len(v))
			copy(val, v)
			entries = append(entries, IndexedEntry{Worker: worker, Index: idx, Value: val})
			if count > 0 && len(entries) >= count {
				break
			}
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) First(ctx context.Context, namespace, worker string) (IndexedEntry, bool, error) {
	var entry IndexedEntry
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		prefix := workerPrefix(worker)
		k, v := c.Seek(prefix)
		if k == nil || !strings.HasPrefix(string(k), string(prefix)) {
			return nil
		}
		_, idx := decodeIndexedKey(k)
		val := make([]byte, len(v))
		copy(val, v)
		entry = IndexedEntry{Worker: worker, Index: idx, Value: val}
		ok = true
		return nil
	})
	return entry, ok, err
}

func (s *BoltStore) Last(ctx context.Context, namespace, worker string) (IndexedEntry, bool, error) {
	var entry IndexedEntry
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil {
			return err
		}
		entry, ok, err = lastInBucket(b, worker)
		return err
	})
	return entry, ok, err
}

func (s *BoltStore) Closest(ctx context.Context, namespace, worker string, key int64) (IndexedEntry, bool, error) {
	var entry IndexedEntry
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		prefix := workerPrefix(worker)
		k, v := c.Seek(indexedKey(worker, key))
		if k == nil || !strings.HasPrefix(string(k), string(prefix)) {
			return nil
		}
		_, idx := decodeIndexedKey(k)
		val := make([]byte, len(v))
		copy(val, v)
		entry = IndexedEntry{Worker: worker, Index: idx, Value: val}
		ok = true
		return nil
	})
	return entry, ok, err
}

func (s *BoltStore) Length(ctx context.Context, namespace, worker string) (int64, error) {
	var length int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		prefix := workerPrefix(worker)
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			length++
		}
		return nil
	})
	return length, err
}

func (s *BoltStore) DropPrefix(ctx context.Context, namespace, worker string, upTo int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, true)
		if err != nil {
			return err
		}
		c := b.Cursor()
		prefix := workerPrefix(worker)
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			_, idx := decodeIndexedKey(k)
			if idx < upTo {
				kk := make([]byte, len(k))
				copy(kk, k)
				toDelete = append(toDelete, kk)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Scan(ctx context.Context, namespace, pattern, cursor string, limit int) ([]IndexedEntry, string, error) {
	var entries []IndexedEntry
	var next string
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.indexedBucket(tx, namespace, false)
		if err != nil || b == nil {
			return err
		}
		c := b.Cursor()
		var k, v []byte
		if cursor == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(cursor))
		}
		for ; k != nil; k, v = c.Next() {
			worker, idx := decodeIndexedKey(k)
			if pattern != "" && !strings.Contains(worker, pattern) {
				continue
			}
			val := make([]byte, len(v))
			copy(val, v)
			entries = append(entries, IndexedEntry{Worker: worker, Index: idx, Value: val})
			if limit > 0 && len(entries) >= limit {
				nk, _ := c.Next()
				if nk != nil {
					next = string(nk)
				}
				break
			}
		}
		return nil
	})
	return entries, next, err
}

// --- KVStore ---

func kvBucketName(namespace string) []byte {
	return []byte(bucketKVPrefix + namespace)
}

func (s *BoltStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvBucketName(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *BoltStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucketName(namespace))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		ok = true
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) Delete(ctx context.Context, namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucketName(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucketName(namespace))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			val := make([]byte, len(v))
			copy(val, v)
			result[string(k)] = val
			return nil
		})
	})
	return result, err
}

// --- BlobStore ---

func (s *BoltStore) PutBlob(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		return b.Put([]byte(hash), data)
	})
	return hash, err
}

func (s *BoltStore) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		v := b.Get([]byte(hash))
		if v == nil {
			return fmt.Errorf("blob not found: %s", hash)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}

func (s *BoltStore) HasBlob(ctx context.Context, hash string) (bool, error) {
	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		has = b.Get([]byte(hash)) != nil
		return nil
	})
	return has, err
}

func (s *BoltStore) DeleteBlob(ctx context.Context, hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		return b.Delete([]byte(hash))
	})
}

// --- ComponentObjectStore ---

func componentKey(componentID string, version uint64) []byte {
	return []byte(fmt.Sprintf("%s@%d", componentID, version))
}

func componentFileKey(componentID string, version uint64, path string) []byte {
	return []byte(fmt.Sprintf("%s@%d:%s", componentID, version, path))
}

func (s *BoltStore) PutComponent(ctx context.Context, componentID string, version uint64, wasmBytes []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComponents)
		return b.Put(componentKey(componentID, version), wasmBytes)
	})
}

func (s *BoltStore) GetComponent(ctx context.Context, componentID string, version uint64) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComponents)
		v := b.Get(componentKey(componentID, version))
		if v == nil {
			return fmt.Errorf("component not found: %s@%d", componentID, version)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}

func (s *BoltStore) PutFile(ctx context.Context, componentID string, version uint64, path string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComponentFile)
		return b.Put(componentFileKey(componentID, version, path), data)
	})
}

func (s *BoltStore) GetFile(ctx context.Context, componentID string, version uint64, path string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComponentFile)
		v := b.Get(componentFileKey(componentID, version, path))
		if v == nil {
			return fmt.Errorf("file not found: %s@%d:%s", componentID, version, path)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
