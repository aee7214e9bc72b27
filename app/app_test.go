package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/signature"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/veilchain/veil/crypto"
	"github.com/veilchain/veil/state"
	"github.com/veilchain/veil/tree"
	"github.com/veilchain/veil/types"
	"github.com/veilchain/veil/veilerrors"
)

const testChainID = "veil-test"

func testConfig() Config {
	return Config{
		ChainID:       testChainID,
		TreeDepth:     8,
		AnchorWindow:  4,
		CommitTimeout: 5 * time.Second,
	}
}

// acceptVerifier admits every proof. Lifecycle tests exercise the state
// machine; the proof system is tested against the real circuits elsewhere.
type acceptVerifier struct{}

func (acceptVerifier) VerifySpend([]byte, types.SpendStatement) error { return nil }

func (acceptVerifier) VerifyOutput([]byte, types.OutputStatement) error { return nil }

type rejectVerifier struct{}

func (rejectVerifier) VerifySpend([]byte, types.SpendStatement) error {
	return errors.New("proof rejected")
}
func (rejectVerifier) VerifyOutput([]byte, types.OutputStatement) error {
	return errors.New("proof rejected")
}

type stubProver struct{}

func (stubProver) ProveSpend(types.SpendStatement, types.SpendWitness) ([]byte, error) {
	return []byte("spend-proof"), nil
}

func (stubProver) ProveOutput(types.OutputStatement, types.OutputWitness) ([]byte, error) {
	return []byte("output-proof"), nil
}

// newTestApp boots an app over an in-memory store with numNotes genesis notes
// of 100 each, all owned by the returned signer.
func newTestApp(t *testing.T, v types.Verifier, numNotes int) (*App, []*types.Note, signature.Signer, *state.Store) {
	t.Helper()

	signer, err := crypto.NewSpendKey()
	require.NoError(t, err)
	store, err := state.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a, err := New(testConfig(), store, v, zerolog.Nop())
	require.NoError(t, err)

	addr := types.PubToAddr(signer.Public())
	allocs := make([]Allocation, numNotes)
	for i := range allocs {
		allocs[i] = Allocation{Address: addr, Amount: 100}
	}
	_, err = a.InitGenesis(context.Background(), allocs)
	require.NoError(t, err)

	notes := make([]*types.Note, numNotes)
	for i := range allocs {
		notes[i], err = GenesisNote(testChainID, uint64(i), allocs[i])
		require.NoError(t, err)
	}
	return a, notes, signer, store
}

// buildSpendTx spends note at position against the current root, paying
// amount-1 back to the owner with fee 1.
func buildSpendTx(t *testing.T, a *App, signer signature.Signer, note *types.Note, position uint64, expiry uint32) []byte {
	t.Helper()

	st := a.State()
	var anchor [types.RootSize]byte
	copy(anchor[:], st.Root)
	path, err := a.Witness(position)
	require.NoError(t, err)

	b := types.NewBuilder(testChainID, anchor, expiry)
	require.NoError(t, b.AddSpend(signer, note, position, path))
	_, err = b.AddOutput(signer.Public(), note.Amount-1, nil)
	require.NoError(t, err)
	b.SetFee(1)

	tx, err := b.Finalize(stubProver{})
	require.NoError(t, err)
	raw, err := tx.Encode()
	require.NoError(t, err)
	return raw
}

func commitBlock(t *testing.T, a *App, txs ...[]byte) []byte {
	t.Helper()

	height := a.State().Height + 1
	require.NoError(t, a.BeginBlock(height))
	for _, raw := range txs {
		res := a.DeliverTx(raw)
		require.True(t, res.OK(), "deliver: %s", res.Log)
	}
	require.NoError(t, a.EndBlock(height))
	appHash, err := a.Commit(context.Background())
	require.NoError(t, err)
	return appHash
}

func TestGenesisCommitsBlockZero(t *testing.T) {
	a, notes, _, _ := newTestApp(t, acceptVerifier{}, 2)

	st := a.State()
	require.EqualValues(t, 0, st.Height)
	require.NotEmpty(t, st.AppHash)
	require.False(t, a.Fresh())

	// The genesis notes are in the tree and provable against the root.
	path, err := a.Witness(1)
	require.NoError(t, err)
	require.Len(t, path, testConfig().TreeDepth)
	require.True(t, tree.VerifyWitness(st.Root, notes[1].Commitment(), 1, path))
}

func TestGenesisRejectedOnNonFreshState(t *testing.T) {
	a, _, _, _ := newTestApp(t, acceptVerifier{}, 1)
	_, err := a.InitGenesis(context.Background(), nil)
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(err))
}

func TestSpendLifecycle(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	raw := buildSpendTx(t, a, signer, notes[0], 0, 0)
	res := a.CheckTx(raw, CheckTxNew)
	require.True(t, res.OK(), res.Log)

	before := a.State()
	appHash := commitBlock(t, a, raw)

	after := a.State()
	require.EqualValues(t, 1, after.Height)
	require.EqualValues(t, 1, after.Nullifiers)
	require.Equal(t, appHash, after.AppHash)
	require.NotEqual(t, before.AppHash, after.AppHash)
	require.NotEqual(t, before.Root, after.Root, "new output must change the root")

	// The nullifier is now committed.
	tx, err := types.Decode(raw)
	require.NoError(t, err)
	nf := tx.SpentNullifiers()[0]
	spent, err := a.HasNullifier(nf[:])
	require.NoError(t, err)
	require.True(t, spent)

	// Replaying the transaction fails against committed state.
	res = a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeDoubleSpend, res.Code)
}

func TestDoubleSpendWithinBlock(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	// Two distinct transactions spending the same note reveal the same
	// nullifier; a Byzantine proposer can include both.
	raw1 := buildSpendTx(t, a, signer, notes[0], 0, 0)
	raw2 := buildSpendTx(t, a, signer, notes[0], 0, 0)
	require.NotEqual(t, raw1, raw2)

	height := a.State().Height + 1
	require.NoError(t, a.BeginBlock(height))

	res := a.DeliverTx(raw1)
	require.True(t, res.OK(), res.Log)
	res = a.DeliverTx(raw2)
	require.EqualValues(t, veilerrors.CodeDoubleSpend, res.Code)

	// The rejection is local; the block still commits with the first spend.
	require.NoError(t, a.EndBlock(height))
	_, err := a.Commit(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, a.State().Height)
}

func TestAnchorWindowEviction(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 6)

	// Built against the genesis root, held back while the chain advances.
	stale := buildSpendTx(t, a, signer, notes[5], 5, 0)

	// Each block spends a note, changing the root and aging the window.
	for i := 0; i < testConfig().AnchorWindow; i++ {
		raw := buildSpendTx(t, a, signer, notes[i], uint64(i), 0)
		commitBlock(t, a, raw)
	}

	// The genesis root has been evicted; the stale transaction is rejected
	// from both the mempool and a block.
	res := a.CheckTx(stale, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeUnknownAnchor, res.Code)

	height := a.State().Height + 1
	require.NoError(t, a.BeginBlock(height))
	res = a.DeliverTx(stale)
	require.EqualValues(t, veilerrors.CodeUnknownAnchor, res.Code)
	require.NoError(t, a.EndBlock(height))
	_, err := a.Commit(context.Background())
	require.NoError(t, err)

	// Rebuilt against a live anchor, the same spend goes through.
	fresh := buildSpendTx(t, a, signer, notes[5], 5, 0)
	res = a.CheckTx(fresh, CheckTxNew)
	require.True(t, res.OK(), res.Log)
}

func TestEmptyBlockAdvancesAppHash(t *testing.T) {
	a, _, _, _ := newTestApp(t, acceptVerifier{}, 1)

	before := a.State()
	appHash := commitBlock(t, a)
	after := a.State()

	require.EqualValues(t, 1, after.Height)
	require.Equal(t, before.Root, after.Root)
	require.NotEqual(t, before.AppHash, appHash)

	// An unchanged root re-enters the window; transactions against it stay
	// valid through empty blocks.
	require.True(t, a.Anchors() != nil)
}

func TestDeterministicReplayAcrossNodes(t *testing.T) {
	a1, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	// Second node, same genesis file.
	store2, err := state.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })
	a2, err := New(testConfig(), store2, acceptVerifier{}, zerolog.Nop())
	require.NoError(t, err)
	addr := types.PubToAddr(signer.Public())
	_, err = a2.InitGenesis(context.Background(), []Allocation{{Address: addr, Amount: 100}})
	require.NoError(t, err)

	require.Equal(t, a1.State().AppHash, a2.State().AppHash, "genesis must be deterministic")

	raw := buildSpendTx(t, a1, signer, notes[0], 0, 0)
	h1 := commitBlock(t, a1, raw)
	h2 := commitBlock(t, a2, raw)
	require.Equal(t, h1, h2, "identical blocks must commit to identical app hashes")
}

func TestMempoolNullifierReservation(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	raw1 := buildSpendTx(t, a, signer, notes[0], 0, 0)
	raw2 := buildSpendTx(t, a, signer, notes[0], 0, 0)

	res := a.CheckTx(raw1, CheckTxNew)
	require.True(t, res.OK(), res.Log)

	// A conflicting spend cannot co-exist in the mempool.
	res = a.CheckTx(raw2, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeDoubleSpend, res.Code)

	// Rechecks of the holder do not collide with its own reservation.
	res = a.CheckTx(raw1, CheckTxRecheck)
	require.True(t, res.OK(), res.Log)
}

func TestMempoolReservationReleasedOnRejection(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 2)

	raw := buildSpendTx(t, a, signer, notes[0], 0, 0)

	// Change the root once, then age the genesis anchor out of the window
	// with empty blocks.
	commitBlock(t, a, buildSpendTx(t, a, signer, notes[1], 1, 0))
	for a.State().Height < uint64(testConfig().AnchorWindow)+1 {
		commitBlock(t, a)
	}

	res := a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeUnknownAnchor, res.Code)

	// The failed admission must not leave a reservation behind: the same
	// nullifier still classifies as UnknownAnchor, not mempool DoubleSpend.
	res = a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeUnknownAnchor, res.Code)
}

func TestExpiredTransactionRejected(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	commitBlock(t, a) // height 1

	// Expired strictly after its expiry height: mempool height is now 2.
	raw := buildSpendTx(t, a, signer, notes[0], 0, 1)
	res := a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeExpiredOrWrongChain, res.Code)

	// Expiry equal to the current height is still valid.
	raw = buildSpendTx(t, a, signer, notes[0], 0, 2)
	res = a.CheckTx(raw, CheckTxNew)
	require.True(t, res.OK(), res.Log)
}

func TestWrongChainIDRejected(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	st := a.State()
	var anchor [types.RootSize]byte
	copy(anchor[:], st.Root)
	path, err := a.Witness(0)
	require.NoError(t, err)

	b := types.NewBuilder("other-chain", anchor, 0)
	require.NoError(t, b.AddSpend(signer, notes[0], 0, path))
	_, err = b.AddOutput(signer.Public(), 99, nil)
	require.NoError(t, err)
	b.SetFee(1)
	tx, err := b.Finalize(stubProver{})
	require.NoError(t, err)
	raw, err := tx.Encode()
	require.NoError(t, err)

	res := a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeExpiredOrWrongChain, res.Code)
}

func TestInvalidProofRejected(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, rejectVerifier{}, 1)

	raw := buildSpendTx(t, a, signer, notes[0], 0, 0)
	res := a.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeInvalidProof, res.Code)
}

func TestTamperedBindingSigRejected(t *testing.T) {
	a, notes, signer, _ := newTestApp(t, acceptVerifier{}, 1)

	raw := buildSpendTx(t, a, signer, notes[0], 0, 0)
	tx, err := types.Decode(raw)
	require.NoError(t, err)
	tx.BindingSig[40] ^= 0x01
	tampered, err := tx.Encode()
	require.NoError(t, err)

	res := a.CheckTx(tampered, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeUnbalancedValue, res.Code)
}

func TestMalformedBytesRejected(t *testing.T) {
	a, _, _, _ := newTestApp(t, acceptVerifier{}, 1)

	res := a.CheckTx([]byte{0xde, 0xad, 0xbe, 0xef}, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeMalformedTransaction, res.Code)

	res = a.DeliverTx(nil)
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, res.Code)
}

func TestLifecycleOrderEnforced(t *testing.T) {
	a, _, _, _ := newTestApp(t, acceptVerifier{}, 1)

	// DeliverTx, EndBlock and Commit outside a block.
	res := a.DeliverTx([]byte{0x01})
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, res.Code)
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(a.EndBlock(1)))
	_, err := a.Commit(context.Background())
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(err))

	// Wrong heights.
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(a.BeginBlock(5)))
	require.NoError(t, a.BeginBlock(1))
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(a.BeginBlock(2)))
	require.EqualValues(t, veilerrors.CodeInvalidLifecycle, veilerrors.CodeOf(a.EndBlock(2)))
	require.NoError(t, a.EndBlock(1))
	_, err = a.Commit(context.Background())
	require.NoError(t, err)
}

func TestEndBlockHook(t *testing.T) {
	a, _, _, _ := newTestApp(t, acceptVerifier{}, 1)

	var heights []uint64
	a.SetEndBlockHook(func(h uint64) { heights = append(heights, h) })

	commitBlock(t, a)
	commitBlock(t, a)
	require.Equal(t, []uint64{1, 2}, heights)
}

func TestRestartRestoresCommittedState(t *testing.T) {
	a, notes, signer, store := newTestApp(t, acceptVerifier{}, 2)

	raw := buildSpendTx(t, a, signer, notes[0], 0, 0)
	commitBlock(t, a, raw)
	want := a.State()
	wantAnchors := a.Anchors()

	restarted, err := New(testConfig(), store, acceptVerifier{}, zerolog.Nop())
	require.NoError(t, err)

	got := restarted.State()
	require.Equal(t, want.Height, got.Height)
	require.Equal(t, want.AppHash, got.AppHash)
	require.Equal(t, want.Root, got.Root)
	require.Equal(t, want.Nullifiers, got.Nullifiers)
	require.Equal(t, wantAnchors, restarted.Anchors())

	// The spent note stays spent and the unspent one stays spendable.
	res := restarted.CheckTx(raw, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeDoubleSpend, res.Code)

	raw2 := buildSpendTx(t, restarted, signer, notes[1], 1, 0)
	res = restarted.CheckTx(raw2, CheckTxNew)
	require.True(t, res.OK(), res.Log)
}

func TestCommitFailureHalts(t *testing.T) {
	signer, err := crypto.NewSpendKey()
	require.NoError(t, err)
	store, err := state.OpenMemory()
	require.NoError(t, err)

	a, err := New(testConfig(), store, acceptVerifier{}, zerolog.Nop())
	require.NoError(t, err)
	addr := types.PubToAddr(signer.Public())
	_, err = a.InitGenesis(context.Background(), []Allocation{{Address: addr, Amount: 100}})
	require.NoError(t, err)

	require.NoError(t, a.BeginBlock(1))
	require.NoError(t, a.EndBlock(1))

	// Persistence failure at commit is fatal: the node halts instead of
	// acknowledging a block it could not write.
	require.NoError(t, store.Close())
	_, err = a.Commit(context.Background())
	require.Error(t, err)
	require.True(t, veilerrors.IsFatal(err))
	require.True(t, a.Halted())

	res := a.CheckTx([]byte{0x01}, CheckTxNew)
	require.EqualValues(t, veilerrors.CodeStorageFailure, res.Code)
	require.Error(t, a.BeginBlock(2))
}
