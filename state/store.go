// Package state owns the persistent committed state of the shielded pool and
// the per-block staging overlay. All consensus-critical writes happen in a
// single atomic batch at commit time; a crash between staging and commit
// leaves the previous committed state fully intact.
package state

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/veilchain/veil/tree"
	"github.com/veilchain/veil/veilerrors"
)

// Key layout. Nullifier and leaf entries are append-only.
var (
	keyHeight  = []byte("meta/height")
	keyAppHash = []byte("meta/apphash")
	keyAnchors = []byte("meta/anchors")
	keyTree    = []byte("meta/tree")
	keyNfCount = []byte("meta/nfcount")

	prefixNullifier = []byte("nf/")
	prefixLeaf      = []byte("leaf/")
	prefixBlock     = []byte("blk/")
)

// Store wraps LevelDB for the committed application state. LevelDB handles
// its own synchronization, so concurrent readers (CheckTx) are safe against
// the single writer (Commit).
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the database at path. An empty path yields an
// in-memory store for tests.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open state store at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory creates an in-memory store.
func OpenMemory() (*Store, error) {
	return Open("")
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Committed is the persisted consensus state loaded at startup.
type Committed struct {
	Height         uint64
	AppHash        []byte
	Anchors        [][]byte
	Tree           tree.Snapshot
	NullifierCount uint64
}

type storedTree struct {
	Size     uint64
	Frontier [][]byte
}

// LoadCommitted reads the committed state. Returns ok=false on a fresh
// database.
func (s *Store) LoadCommitted() (c Committed, ok bool, err error) {
	heightBytes, err := s.db.Get(keyHeight, nil)
	if err == leveldb.ErrNotFound {
		return Committed{}, false, nil
	}
	if err != nil {
		return Committed{}, false, fmt.Errorf("load height: %w", err)
	}
	c.Height = binary.BigEndian.Uint64(heightBytes)

	if c.AppHash, err = s.db.Get(keyAppHash, nil); err != nil {
		return Committed{}, false, fmt.Errorf("load app hash: %w", err)
	}
	anchorsBytes, err := s.db.Get(keyAnchors, nil)
	if err != nil {
		return Committed{}, false, fmt.Errorf("load anchors: %w", err)
	}
	if err = rlp.DecodeBytes(anchorsBytes, &c.Anchors); err != nil {
		return Committed{}, false, fmt.Errorf("decode anchors: %w", err)
	}
	treeBytes, err := s.db.Get(keyTree, nil)
	if err != nil {
		return Committed{}, false, fmt.Errorf("load tree: %w", err)
	}
	var st storedTree
	if err = rlp.DecodeBytes(treeBytes, &st); err != nil {
		return Committed{}, false, fmt.Errorf("decode tree: %w", err)
	}
	c.Tree = tree.Snapshot{Size: st.Size, Frontier: st.Frontier}
	countBytes, err := s.db.Get(keyNfCount, nil)
	if err != nil {
		return Committed{}, false, fmt.Errorf("load nullifier count: %w", err)
	}
	c.NullifierCount = binary.BigEndian.Uint64(countBytes)
	return c, true, nil
}

// Leaves returns all persisted note commitments in append order.
func (s *Store) Leaves() ([][]byte, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefixLeaf), nil)
	defer iter.Release()

	var leaves [][]byte
	for iter.Next() {
		leaves = append(leaves, append([]byte(nil), iter.Value()...))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan leaves: %w", err)
	}
	return leaves, nil
}

// HasNullifier reports committed membership of a nullifier. This is the sole
// admission criterion for spend validity against committed state.
func (s *Store) HasNullifier(nf []byte) (bool, error) {
	_, err := s.db.Get(nullifierKey(nf), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nullifier lookup: %w", err)
	}
	return true, nil
}

// BlockRecord is everything a committed block writes.
type BlockRecord struct {
	Height      uint64
	Root        []byte
	AppHash     []byte
	Nullifiers  [][]byte
	Commitments [][]byte
	LeafStart   uint64
	Tree        tree.Snapshot
	Anchors     [][]byte

	// NullifierCount is the cumulative count after this block.
	NullifierCount uint64
}

type storedBlock struct {
	Root        []byte
	AppHash     []byte
	Nullifiers  [][]byte
	Commitments [][]byte
}

// CommitBlock atomically persists a block's effects: meta state, new
// nullifiers, new leaves, and the block record. The write is awaited
// synchronously but bounded by ctx; failure or timeout is fatal for the node,
// which must halt rather than diverge.
func (s *Store) CommitBlock(ctx context.Context, rec BlockRecord) error {
	batch := new(leveldb.Batch)

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, rec.Height)
	batch.Put(keyHeight, heightBytes)
	batch.Put(keyAppHash, rec.AppHash)

	countBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(countBytes, rec.NullifierCount)
	batch.Put(keyNfCount, countBytes)

	anchorsBytes, err := rlp.EncodeToBytes(rec.Anchors)
	if err != nil {
		return veilerrors.Wrap(veilerrors.ErrStorageFailure, "encode anchors: %v", err)
	}
	batch.Put(keyAnchors, anchorsBytes)

	treeBytes, err := rlp.EncodeToBytes(storedTree{Size: rec.Tree.Size, Frontier: rec.Tree.Frontier})
	if err != nil {
		return veilerrors.Wrap(veilerrors.ErrStorageFailure, "encode tree: %v", err)
	}
	batch.Put(keyTree, treeBytes)

	for _, nf := range rec.Nullifiers {
		batch.Put(nullifierKey(nf), heightBytes)
	}
	for i, cm := range rec.Commitments {
		batch.Put(leafKey(rec.LeafStart+uint64(i)), cm)
	}

	blockBytes, err := rlp.EncodeToBytes(storedBlock{
		Root:        rec.Root,
		AppHash:     rec.AppHash,
		Nullifiers:  rec.Nullifiers,
		Commitments: rec.Commitments,
	})
	if err != nil {
		return veilerrors.Wrap(veilerrors.ErrStorageFailure, "encode block: %v", err)
	}
	batch.Put(blockKey(rec.Height), blockBytes)

	done := make(chan error, 1)
	go func() {
		done <- s.db.Write(batch, nil)
	}()
	select {
	case err := <-done:
		if err != nil {
			return veilerrors.Wrap(veilerrors.ErrStorageFailure, "write block %d: %v", rec.Height, err)
		}
		return nil
	case <-ctx.Done():
		return veilerrors.Wrap(veilerrors.ErrStorageFailure, "commit block %d: %v", rec.Height, ctx.Err())
	}
}

// Block loads the record for a committed height, for recovery and audit.
func (s *Store) Block(height uint64) (root, appHash []byte, nullifiers, commitments [][]byte, err error) {
	raw, err := s.db.Get(blockKey(height), nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load block %d: %w", height, err)
	}
	var sb storedBlock
	if err := rlp.DecodeBytes(raw, &sb); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decode block %d: %w", height, err)
	}
	return sb.Root, sb.AppHash, sb.Nullifiers, sb.Commitments, nil
}

func nullifierKey(nf []byte) []byte {
	return append(append([]byte(nil), prefixNullifier...), nf...)
}

func leafKey(index uint64) []byte {
	key := make([]byte, len(prefixLeaf)+8)
	copy(key, prefixLeaf)
	binary.BigEndian.PutUint64(key[len(prefixLeaf):], index)
	return key
}

func blockKey(height uint64) []byte {
	key := make([]byte, len(prefixBlock)+8)
	copy(key, prefixBlock)
	binary.BigEndian.PutUint64(key[len(prefixBlock):], height)
	return key
}
