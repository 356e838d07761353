package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

const (
	defaultCacheMiB = 16
	defaultHandles  = 64
)

// Database is a generic interface for a key-value store. The node keeps its
// head pointer here and the state trie persists its nodes through TrieDB.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	TrieDB() *triedb.Database
	Close()
}

type backend struct {
	kv     ethdb.Database
	trieDB *triedb.Database
}

func newBackend(kv ethdb.Database) backend {
	return backend{kv: kv, trieDB: triedb.NewDatabase(kv, nil)}
}

func (b backend) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("storage: key must not be empty")
	}
	return b.kv.Put(key, value)
}

func (b backend) Get(key []byte) ([]byte, error) {
	ok, err := b.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return b.kv.Get(key)
}

func (b backend) Has(key []byte) (bool, error) {
	return b.kv.Has(key)
}

func (b backend) Delete(key []byte) error {
	return b.kv.Delete(key)
}

func (b backend) TrieDB() *triedb.Database {
	return b.trieDB
}

func (b backend) close() {
	_ = b.trieDB.Close()
	_ = b.kv.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	backend
}

func NewMemDB() *MemDB {
	return &MemDB{backend: newBackend(rawdb.NewMemoryDatabase())}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store backed by goleveldb.
type LevelDB struct {
	backend
	path string
}

// LevelDBOptions tunes the underlying goleveldb instance.
type LevelDBOptions struct {
	CacheMiB int
	Handles  int
	ReadOnly bool
}

// NewLevelDB creates or opens a LevelDB database at path with default tuning.
func NewLevelDB(path string) (*LevelDB, error) {
	return OpenLevelDB(path, LevelDBOptions{})
}

// OpenLevelDB creates or opens a LevelDB database at path.
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("storage: leveldb path required")
	}
	cache := opts.CacheMiB
	if cache <= 0 {
		cache = defaultCacheMiB
	}
	handles := opts.Handles
	if handles <= 0 {
		handles = defaultHandles
	}
	kv, err := ethleveldb.NewCustom(trimmed, "", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = handles
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
		o.ReadOnly = opts.ReadOnly
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", trimmed, err)
	}
	return &LevelDB{backend: newBackend(rawdb.NewDatabase(kv)), path: trimmed}, nil
}

// Path returns the directory backing the database.
func (ldb *LevelDB) Path() string {
	return ldb.path
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.close()
}
