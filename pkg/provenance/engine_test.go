package provenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witnesslabs/witness/pkg/clock"
	"github.com/witnesslabs/witness/pkg/crypto"
	"github.com/witnesslabs/witness/pkg/event"
	"github.com/witnesslabs/witness/pkg/store"

	_ "modernc.org/sqlite"
)

type testEnv struct {
	engine *Engine
	db     *sql.DB
	events *store.SQLEventStore
	chain  *store.SQLChainStore
	signer crypto.Signer
}

func newTestEnv(t *testing.T, signer crypto.Signer) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	events := store.NewSQLEventStore(db)
	require.NoError(t, events.Init(ctx))
	chain := store.NewSQLChainStore(db)
	require.NoError(t, chain.Init(ctx))

	if signer == nil {
		sw, err := crypto.NewEd25519Signer()
		require.NoError(t, err)
		signer = sw
	}

	ts := clock.NewHostClockWithFunc(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	engine, err := NewEngine(ctx, signer, events, chain, ts, nil)
	require.NoError(t, err)

	return &testEnv{engine: engine, db: db, events: events, chain: chain, signer: signer}
}

func motionInput(n int) CreateInput {
	return CreateInput{
		EventType:         event.TypeMotionDetection,
		TriggerPayload:    json.RawMessage(`{"accel_g":1.8}`),
		ArtifactBytes:     []byte(fmt.Sprintf("jpeg-bytes-%d", n)),
		ArtifactReference: fmt.Sprintf("captures/%d.jpg", n),
	}
}

func TestCreateRecord_GenesisAndLinking(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Position)
	assert.True(t, a.Signed)

	linkA, err := env.chain.Link(ctx, a.Record.EventID)
	require.NoError(t, err)
	assert.Empty(t, linkA.PreviousHash, "genesis link must have empty previous hash")
	assert.Equal(t, a.CurrentHash, linkA.CurrentHash)

	b, err := env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Position)

	linkB, err := env.chain.Link(ctx, b.Record.EventID)
	require.NoError(t, err)
	assert.Equal(t, a.CurrentHash, linkB.PreviousHash)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.Empty(t, verification.Issues)
}

func TestCreateRecord_SequenceStaysValid(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const n = 7
	for i := 0; i < n; i++ {
		_, err := env.engine.CreateRecord(ctx, motionInput(i))
		require.NoError(t, err)
	}

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.True(t, verification.Contiguous)
	assert.Empty(t, verification.Issues)
	assert.Equal(t, int64(n), verification.Links)

	links, err := env.chain.ReadOrdered(ctx)
	require.NoError(t, err)
	for i, link := range links {
		assert.Equal(t, int64(i+1), link.Position)
	}
}

func TestLinkHash_RoundtripFromPersistedData(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)

	// Recompute from what the stores give back, not from in-memory state.
	link, err := env.chain.Link(ctx, res.Record.EventID)
	require.NoError(t, err)

	recomputed, err := env.engine.recomputeLinkHash(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, link.CurrentHash, recomputed)
	assert.Equal(t, res.CurrentHash, recomputed)
}

func TestVerifyEvent_Valid(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)

	vr, err := env.engine.VerifyEvent(ctx, res.Record.EventID)
	require.NoError(t, err)
	assert.True(t, vr.Valid)
	assert.Empty(t, vr.Reason)
	assert.Equal(t, event.TrustSoftware, vr.Metadata.Trust)
}

func TestVerifyEvent_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.VerifyEvent(context.Background(), "no-such-event")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type unavailableSigner struct{}

func (unavailableSigner) Sign(ctx context.Context, data []byte) (crypto.SignResult, error) {
	return crypto.SignResult{}, crypto.ErrSignerUnavailable
}

func (unavailableSigner) Verify(ctx context.Context, data []byte, res crypto.SignResult) (bool, error) {
	return false, crypto.ErrTrustMismatch
}

func TestCreateRecord_SignerTotalFailureStillLogs(t *testing.T) {
	env := newTestEnv(t, unavailableSigner{})
	ctx := context.Background()

	res, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err, "event logging must not be blocked by signer failure")
	assert.False(t, res.Signed)
	assert.Empty(t, res.Record.Signature)
	assert.Equal(t, event.TrustAbsent, res.Record.SignatureMetadata.Trust)

	// Unsigned verification is an expected, displayable state.
	vr, err := env.engine.VerifyEvent(ctx, res.Record.EventID)
	require.NoError(t, err)
	assert.False(t, vr.Valid)
	assert.Equal(t, ReasonUnsigned, vr.Reason)

	// Unsigned records still chain.
	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestVerifyEvent_TamperedRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)

	// Hand-edit the persisted artifact hash behind the store's back.
	_, err = env.db.ExecContext(ctx,
		`UPDATE events SET artifact_hash = 'deadbeef' WHERE event_id = $1`, res.Record.EventID)
	require.NoError(t, err)

	vr, err := env.engine.VerifyEvent(ctx, res.Record.EventID)
	require.NoError(t, err)
	assert.False(t, vr.Valid)
	assert.Equal(t, ReasonSignatureInvalid, vr.Reason)
}

func TestVerifyChain_HandEditedPreviousHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	b, err := env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, verification.Valid)

	_, err = env.db.ExecContext(ctx,
		`UPDATE chain_links SET previous_hash = 'wrong-hash' WHERE event_id = $1`, b.Record.EventID)
	require.NoError(t, err)

	verification, err = env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	require.Len(t, verification.Issues, 1)
	issue := verification.Issues[0]
	assert.Equal(t, int64(2), issue.Position)
	assert.Equal(t, IssuePreviousHashMismatch, issue.Reason)
	assert.Equal(t, a.CurrentHash, issue.Expected)
	assert.Equal(t, "wrong-hash", issue.Actual)
}

func TestVerifyChain_TamperedEventRecordSurfacesAtItsLink(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	_, err = env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)

	_, err = env.db.ExecContext(ctx,
		`UPDATE events SET artifact_hash = 'deadbeef' WHERE event_id = $1`, a.Record.EventID)
	require.NoError(t, err)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	require.Len(t, verification.Issues, 1)
	assert.Equal(t, int64(1), verification.Issues[0].Position)
	assert.Equal(t, IssueHashMismatch, verification.Issues[0].Reason)
	assert.Equal(t, a.CurrentHash, verification.Issues[0].Actual)
}

func TestVerifyChain_EditedMiddleLinkHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	b, err := env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)
	_, err = env.engine.CreateRecord(ctx, motionInput(3))
	require.NoError(t, err)

	// Edit the stored hash itself, not the record. The untouched record
	// still reproduces the original hash, and the next link still points
	// at the original, so only a per-link recompute catches this.
	_, err = env.db.ExecContext(ctx,
		`UPDATE chain_links SET current_hash = 'deadbeef' WHERE position = 2`)
	require.NoError(t, err)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	require.Len(t, verification.Issues, 2)

	assert.Equal(t, int64(2), verification.Issues[0].Position)
	assert.Equal(t, IssueHashMismatch, verification.Issues[0].Reason)
	assert.Equal(t, b.CurrentHash, verification.Issues[0].Expected)
	assert.Equal(t, "deadbeef", verification.Issues[0].Actual)

	// The edit also breaks stored adjacency to the successor.
	assert.Equal(t, int64(3), verification.Issues[1].Position)
	assert.Equal(t, IssuePreviousHashMismatch, verification.Issues[1].Reason)
	assert.Equal(t, b.CurrentHash, verification.Issues[1].Actual)
}

func TestVerifyChain_TamperedTailRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	b, err := env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)

	_, err = env.db.ExecContext(ctx,
		`UPDATE events SET artifact_hash = 'deadbeef' WHERE event_id = $1`, b.Record.EventID)
	require.NoError(t, err)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	require.Len(t, verification.Issues, 1)
	assert.Equal(t, int64(2), verification.Issues[0].Position)
	assert.Equal(t, IssueHashMismatch, verification.Issues[0].Reason)
}

func TestCreateRecord_ConcurrentCreationsKeepChainValid(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.CreateRecord(ctx, motionInput(i))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "creation %d failed", i)
	}

	links, err := env.chain.ReadOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, links, n)

	seen := map[int64]bool{}
	for _, link := range links {
		assert.False(t, seen[link.Position], "duplicate position %d", link.Position)
		seen[link.Position] = true
	}

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid, "issues: %+v", verification.Issues)
}

type failingChain struct {
	store.ChainStore
	failAppend bool
}

func (f *failingChain) Append(ctx context.Context, eventID, previousHash, currentHash string) (int64, error) {
	if f.failAppend {
		return 0, errors.New("disk full")
	}
	return f.ChainStore.Append(ctx, eventID, previousHash, currentHash)
}

func TestCreateRecord_ChainAppendFailureOrphansEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)

	fc := &failingChain{ChainStore: env.chain, failAppend: true}
	env.engine.chain = fc

	_, err = env.engine.CreateRecord(ctx, motionInput(2))
	assert.ErrorIs(t, err, ErrChainAppend)

	// Cursor must not advance past the last linked record.
	assert.Equal(t, a.CurrentHash, env.engine.Cursor())

	status, err := env.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Stats.Orphaned)
	assert.Len(t, status.Orphaned, 1)

	// Recovery: with the chain store healthy again the next event links
	// to the last chained record, not the orphan.
	fc.failAppend = false
	c, err := env.engine.CreateRecord(ctx, motionInput(3))
	require.NoError(t, err)

	link, err := env.chain.Link(ctx, c.Record.EventID)
	require.NoError(t, err)
	assert.Equal(t, a.CurrentHash, link.PreviousHash)

	verification, err := env.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestNewEngine_SeedsCursorFromTail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.CreateRecord(ctx, motionInput(1))
	require.NoError(t, err)
	b, err := env.engine.CreateRecord(ctx, motionInput(2))
	require.NoError(t, err)

	// Simulate a restart over the same database.
	restarted, err := NewEngine(ctx, env.signer, env.events, env.chain, clock.NewHostClock(), nil)
	require.NoError(t, err)
	assert.Equal(t, b.CurrentHash, restarted.Cursor())
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	env := newTestEnv(t, nil)

	verification, err := env.engine.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.Empty(t, verification.Issues)
	assert.Equal(t, int64(0), verification.Links)
}
