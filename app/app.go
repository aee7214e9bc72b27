// Package app implements the application-layer state machine driven by the
// external consensus engine. The engine guarantees strict ordering of
// BeginBlock, DeliverTx*, EndBlock, Commit per block; CheckTx may arrive
// concurrently at any time and only ever reads the last committed state.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veilchain/veil/state"
	"github.com/veilchain/veil/tree"
	"github.com/veilchain/veil/types"
	"github.com/veilchain/veil/veilerrors"
)

// Config is the consensus-relevant configuration, fixed for the process
// lifetime. All validators of a chain must agree on every field.
type Config struct {
	ChainID       string
	TreeDepth     int
	AnchorWindow  int
	CommitTimeout time.Duration
}

// CheckTxKind distinguishes first-time mempool admission from rechecks after
// a block commit.
type CheckTxKind int

const (
	CheckTxNew CheckTxKind = iota
	CheckTxRecheck
)

// Result is the accept/reject answer for a single transaction. Code 0 is
// acceptance; non-zero codes are stable across validators.
type Result struct {
	Code uint32
	Log  string
}

// OK reports acceptance.
func (r Result) OK() bool { return r.Code == veilerrors.CodeOK }

func resultFromErr(err error) Result {
	if err == nil {
		return Result{}
	}
	return Result{Code: veilerrors.CodeOf(err), Log: err.Error()}
}

type phase int

const (
	phaseIdle phase = iota
	phaseExecuting
	phaseCommitting
)

// EndBlockHook is the pass-through extension point invoked at EndBlock.
// Validator-set logic lives behind it, outside this core.
type EndBlockHook func(height uint64)

// App owns the canonical shielded-pool state and transitions it
// deterministically under the consensus lifecycle.
type App struct {
	cfg      Config
	log      zerolog.Logger
	store    *state.Store
	verifier types.Verifier

	// mu guards the committed state: tree, anchors, height, appHash.
	// CheckTx readers take RLock; only Commit takes the write lock.
	mu        sync.RWMutex
	tree      *tree.CommitmentTree
	anchors   *tree.AnchorRing
	height    uint64
	appHash   []byte
	nullCount uint64

	// Lifecycle state, mutated only by the single-threaded block sequence.
	phase   phase
	pending *state.PendingBlock

	// Nullifiers of transactions currently admitted to the mempool. Keeps
	// conflicting transactions from co-existing there; a Byzantine proposer
	// can still include conflicts, which DeliverTx resolves by order.
	mempoolMu         sync.Mutex
	mempoolNullifiers map[[types.NullifierSize]byte]struct{}

	haltedMu sync.Mutex
	halted   bool

	endBlockHook EndBlockHook
}

// New restores an App from the store, or initializes fresh pre-genesis state
// on an empty database.
func New(cfg Config, store *state.Store, verifier types.Verifier, log zerolog.Logger) (*App, error) {
	a := &App{
		cfg:               cfg,
		log:               log.With().Str("component", "app").Logger(),
		store:             store,
		verifier:          verifier,
		mempoolNullifiers: make(map[[types.NullifierSize]byte]struct{}),
	}

	committed, ok, err := store.LoadCommitted()
	if err != nil {
		return nil, err
	}
	if !ok {
		a.tree, err = tree.New(cfg.TreeDepth)
		if err != nil {
			return nil, err
		}
		a.anchors = tree.NewAnchorRing(cfg.AnchorWindow)
		a.anchors.Push(a.tree.Root())
		a.appHash = nil
		a.height = 0
		a.log.Info().Msg("initialized fresh pre-genesis state")
		return a, nil
	}

	leaves, err := store.Leaves()
	if err != nil {
		return nil, err
	}
	a.tree, err = tree.Restore(cfg.TreeDepth, committed.Tree, leaves)
	if err != nil {
		return nil, fmt.Errorf("restore commitment tree: %w", err)
	}
	a.anchors = tree.RestoreAnchors(cfg.AnchorWindow, committed.Anchors)
	a.height = committed.Height
	a.appHash = committed.AppHash
	a.nullCount = committed.NullifierCount
	a.log.Info().
		Uint64("height", committed.Height).
		Hex("app_hash", committed.AppHash).
		Uint64("commitments", a.tree.Size()).
		Msg("restored committed state")
	return a, nil
}

// SetEndBlockHook installs the EndBlock extension point. Must be called
// before the first block.
func (a *App) SetEndBlockHook(hook EndBlockHook) {
	a.endBlockHook = hook
}

// Fresh reports whether the node has never committed a block, genesis
// included.
func (a *App) Fresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height == 0 && a.tree.Size() == 0 && len(a.appHash) == 0
}

// State returns the committed application state.
func (a *App) State() state.AppState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return state.AppState{
		Height:     a.height,
		Root:       a.tree.Root(),
		AppHash:    append([]byte(nil), a.appHash...),
		Nullifiers: a.nullCount,
	}
}

// Anchors returns the retained root window, newest first.
func (a *App) Anchors() [][]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.anchors.Roots()
}

// Witness serves the Merkle path for a committed leaf to wallet
// collaborators.
func (a *App) Witness(index uint64) ([][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tree.Witness(index)
}

// HasNullifier reports committed nullifier membership, for downstream query
// services.
func (a *App) HasNullifier(nf []byte) (bool, error) {
	return a.store.HasNullifier(nf)
}

// Halted reports whether a fatal condition stopped the node.
func (a *App) Halted() bool {
	a.haltedMu.Lock()
	defer a.haltedMu.Unlock()
	return a.halted
}

func (a *App) halt(err error) {
	a.haltedMu.Lock()
	a.halted = true
	a.haltedMu.Unlock()
	a.log.Error().Err(err).Msg("fatal error, halting to avoid state divergence")
}

// CheckTx validates a transaction for mempool admission against the last
// committed state. It never observes speculative in-block state and may run
// concurrently with block execution.
func (a *App) CheckTx(raw []byte, kind CheckTxKind) Result {
	if a.Halted() {
		return resultFromErr(veilerrors.Wrap(veilerrors.ErrStorageFailure, "node halted"))
	}

	tx, err := types.Decode(raw)
	if err != nil {
		return resultFromErr(veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "%v", err))
	}

	a.mu.RLock()
	mempoolHeight := a.height + 1
	a.mu.RUnlock()

	if err := a.validateStateless(tx, mempoolHeight); err != nil {
		return resultFromErr(err)
	}

	// Mempool-level double-spend gate: only for new admissions, not
	// rechecks of transactions already holding their nullifiers.
	if kind == CheckTxNew {
		if err := a.reserveMempoolNullifiers(tx); err != nil {
			return resultFromErr(err)
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.validateStateful(tx, nil); err != nil {
		if kind == CheckTxNew {
			a.releaseMempoolNullifiers(tx.SpentNullifiers())
		}
		return resultFromErr(err)
	}
	return Result{}
}

func (a *App) reserveMempoolNullifiers(tx *types.Transaction) error {
	nfs := tx.SpentNullifiers()
	a.mempoolMu.Lock()
	defer a.mempoolMu.Unlock()
	for _, nf := range nfs {
		if _, ok := a.mempoolNullifiers[nf]; ok {
			return veilerrors.Wrap(veilerrors.ErrDoubleSpend, "nullifier %x already in mempool", nf)
		}
	}
	for _, nf := range nfs {
		a.mempoolNullifiers[nf] = struct{}{}
	}
	return nil
}

func (a *App) releaseMempoolNullifiers(nfs [][types.NullifierSize]byte) {
	a.mempoolMu.Lock()
	defer a.mempoolMu.Unlock()
	for _, nf := range nfs {
		delete(a.mempoolNullifiers, nf)
	}
}

// BeginBlock opens the speculative staging overlay for the block at height.
func (a *App) BeginBlock(height uint64) error {
	if a.Halted() {
		return veilerrors.Wrap(veilerrors.ErrStorageFailure, "node halted")
	}
	if a.phase != phaseIdle {
		return veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "BeginBlock in phase %d", a.phase)
	}
	a.mu.RLock()
	expected := a.height + 1
	a.mu.RUnlock()
	if height != expected {
		return veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "BeginBlock height %d, expected %d", height, expected)
	}
	a.pending = state.NewPendingBlock(height)
	a.phase = phaseExecuting
	a.log.Debug().Uint64("height", height).Msg("begin block")
	return nil
}

// DeliverTx executes one transaction of the block in order. All checks are
// repeated even if CheckTx passed: a Byzantine proposer may include double
// spends. A rejection is local to the transaction; block execution
// continues.
func (a *App) DeliverTx(raw []byte) Result {
	if a.phase != phaseExecuting {
		return resultFromErr(veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "DeliverTx outside block execution"))
	}

	tx, err := types.Decode(raw)
	if err != nil {
		return resultFromErr(veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "%v", err))
	}

	if err := a.validateStateless(tx, a.pending.Height); err != nil {
		a.log.Debug().Uint32("code", veilerrors.CodeOf(err)).Err(err).Msg("deliver_tx rejected")
		return resultFromErr(err)
	}
	if err := a.validateStateful(tx, a.pending); err != nil {
		a.log.Debug().Uint32("code", veilerrors.CodeOf(err)).Err(err).Msg("deliver_tx rejected")
		return resultFromErr(err)
	}

	// Every check passed; stage the whole transaction's effects.
	a.pending.AddTransaction(tx)
	return Result{}
}

// EndBlock closes transaction delivery. Validator-set logic is delegated to
// the installed hook, outside this core.
func (a *App) EndBlock(height uint64) error {
	if a.phase != phaseExecuting {
		return veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "EndBlock in phase %d", a.phase)
	}
	if a.pending.Height != height {
		return veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "EndBlock height %d, block is %d", height, a.pending.Height)
	}
	if a.endBlockHook != nil {
		a.endBlockHook(height)
	}
	a.phase = phaseCommitting
	return nil
}

// Commit atomically applies the staged effects, persists the new committed
// state and returns its hash. Persistence is awaited synchronously with a
// bounded timeout; failure halts the node rather than diverging.
func (a *App) Commit(ctx context.Context) ([]byte, error) {
	if a.phase != phaseCommitting {
		return nil, veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "Commit in phase %d", a.phase)
	}
	pending := a.pending

	a.mu.Lock()
	defer a.mu.Unlock()

	leafStart := a.tree.Size()
	newRoot, err := a.tree.Append(pending.Commitments())
	if err != nil {
		err = veilerrors.Wrap(veilerrors.ErrStorageFailure, "tree append: %v", err)
		a.halt(err)
		return nil, err
	}
	a.anchors.Push(newRoot)

	appHash := state.ComputeAppHash(a.appHash, newRoot, pending.Height, pending.Nullifiers())

	commitCtx, cancel := context.WithTimeout(ctx, a.cfg.CommitTimeout)
	defer cancel()
	err = a.store.CommitBlock(commitCtx, state.BlockRecord{
		Height:         pending.Height,
		Root:           newRoot,
		AppHash:        appHash,
		Nullifiers:     pending.Nullifiers(),
		Commitments:    pending.Commitments(),
		LeafStart:      leafStart,
		Tree:           a.tree.Snapshot(),
		Anchors:        a.anchors.Roots(),
		NullifierCount: a.nullCount + uint64(len(pending.Nullifiers())),
	})
	if err != nil {
		a.halt(err)
		return nil, err
	}

	a.height = pending.Height
	a.appHash = appHash
	a.nullCount += uint64(len(pending.Nullifiers()))
	a.pending = nil
	a.phase = phaseIdle

	// Committed nullifiers no longer need their mempool reservation.
	a.mempoolMu.Lock()
	for _, nf := range pending.Nullifiers() {
		var key [types.NullifierSize]byte
		copy(key[:], nf)
		delete(a.mempoolNullifiers, key)
	}
	a.mempoolMu.Unlock()

	a.log.Info().
		Uint64("height", a.height).
		Hex("app_hash", appHash).
		Int("nullifiers", len(pending.Nullifiers())).
		Int("commitments", len(pending.Commitments())).
		Msg("committed block")
	return append([]byte(nil), appHash...), nil
}
