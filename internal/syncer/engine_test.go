package syncer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"masterok/internal/database"
	"masterok/internal/models"
	"masterok/internal/queue"
	"masterok/internal/remote"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu          sync.Mutex
	createCalls int
	updateCalls int
	statusCalls int
	reviewCalls int

	createErr error
	updateErr error
	booking   *models.Booking
	gate      chan struct{} // when set, CreateBooking blocks until closed
}

func (f *fakeClient) CreateBooking(ctx context.Context, p *models.CreateBookingPayload) (*models.Booking, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.createErr != nil && f.booking == nil {
		return nil, f.createErr
	}
	if f.booking != nil {
		return f.booking, f.createErr
	}
	return &models.Booking{ID: "bk-123", ServiceID: p.ServiceID, Status: models.StatusPending}, nil
}

func (f *fakeClient) UpdateBooking(ctx context.Context, bookingID string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeClient) TransitionStatus(ctx context.Context, bookingID, verb, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return nil
}

func (f *fakeClient) CreateReview(ctx context.Context, p *models.CreateReviewPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewCalls++
	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls + f.updateCalls + f.statusCalls + f.reviewCalls
}

func newTestEngine(t *testing.T, client RemoteAPI) (*Engine, *queue.Queue, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "engine.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(db, models.MaxSyncRetries, &logger)
	return NewEngine(q, db, client, &logger), q, db
}

func TestSyncPending_OfflineNoop(t *testing.T) {
	client := &fakeClient{}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &models.CreateBookingPayload{ServiceID: "srv-1"})
	require.NoError(t, err)

	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, client.calls(), "offline drain must not touch the network")

	count, err := engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestForceSync_OfflineFailsFast(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeClient{})

	_, err := engine.ForceSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
}

func TestSyncPending_CreateBookingRekeysCache(t *testing.T) {
	client := &fakeClient{}
	engine, q, db := newTestEngine(t, client)
	ctx := context.Background()

	localID, err := q.Enqueue(ctx, &models.CreateBookingPayload{
		ServiceID:        "srv-1",
		QuotedAmount:     100,
		CommissionAmount: 12,
	})
	require.NoError(t, err)

	// Optimistic local copy, as the enqueue path writes it.
	optimistic, _ := json.Marshal(models.Booking{ID: localID, ServiceID: "srv-1", Status: models.StatusPending})
	require.NoError(t, db.UpsertCached(ctx, models.CollectionBookings, []models.CacheEntry{
		{ID: localID, Data: optimistic, Synced: false},
	}))

	count, _ := engine.PendingCount(ctx)
	require.Equal(t, 1, count)

	engine.SetOnline(true)
	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SyncStatusSynced, results[0].Status)
	assert.Equal(t, localID, results[0].LocalID)
	assert.Equal(t, "bk-123", results[0].ServerID)

	count, _ = engine.PendingCount(ctx)
	assert.Equal(t, 0, count)

	// Cache was rekeyed: server ID present and synced, local key gone.
	entry, err := db.GetCached(ctx, models.CollectionBookings, "bk-123")
	require.NoError(t, err)
	assert.True(t, entry.Synced)

	_, err = db.GetCached(ctx, models.CollectionBookings, localID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	assert.Empty(t, engine.SyncError())
	assert.False(t, engine.LastSyncAt().IsZero())
}

func TestSyncPending_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{gate: gate}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	const n = 3
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, &models.CreateBookingPayload{ServiceID: "srv-1"})
		require.NoError(t, err)
	}
	engine.SetOnline(true)

	var wg sync.WaitGroup
	outcomes := make([][]models.SyncResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results, err := engine.SyncPending(ctx)
			assert.NoError(t, err)
			outcomes[i] = results
		}(i)
	}

	// Let the first caller win the lock, then release the fake network.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, engine.IsSyncing())
	close(gate)
	wg.Wait()

	assert.False(t, engine.IsSyncing())
	assert.Equal(t, n, client.calls(), "each pending mutation applied exactly once across concurrent callers")
	for i := 1; i < 4; i++ {
		assert.Equal(t, len(outcomes[0]), len(outcomes[i]))
	}
}

func TestSyncPending_LeaderCancellationDoesNotAbortPass(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{gate: gate}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, &models.CreateBookingPayload{ServiceID: "srv-1"})
		require.NoError(t, err)
	}
	engine.SetOnline(true)

	leaderCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		results, err := engine.SyncPending(leaderCtx)
		// The pass itself is detached from the leader's context.
		assert.NoError(t, err)
		assert.Len(t, results, 2)
	}()

	// Cancel the leader while the first mutation is blocked on the network,
	// then let the fake server respond.
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(gate)
	<-done

	assert.Equal(t, 2, client.calls(), "remaining mutations still applied after leader cancellation")
	count, _ := engine.PendingCount(ctx)
	assert.Equal(t, 0, count)
}

func TestApplyMutation_MissingBookingIDFailsBeforeNetwork(t *testing.T) {
	client := &fakeClient{}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &models.UpdateBookingPayload{
		Fields: map[string]interface{}{"notes": "call first"},
	})
	require.NoError(t, err)

	engine.SetOnline(true)
	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SyncStatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "missing booking ID")
	assert.Zero(t, client.calls(), "validation failures must not cost a round trip")

	count, _ := engine.PendingCount(ctx)
	assert.Equal(t, 0, count, "non-retriable mutation removed after one attempt")
}

func TestApplyMutation_AlreadyExists(t *testing.T) {
	client := &fakeClient{
		booking:   &models.Booking{ID: "bk-9", Status: models.StatusPending},
		createErr: remote.ErrAlreadyExists,
	}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &models.CreateBookingPayload{ServiceID: "srv-1"})
	require.NoError(t, err)

	engine.SetOnline(true)
	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SyncStatusAlreadySynced, results[0].Status)
	assert.Equal(t, "bk-9", results[0].ServerID)
}

func TestSyncPending_RetriableFailureKeepsMutation(t *testing.T) {
	client := &fakeClient{createErr: &remote.Error{Status: 503, Message: "maintenance"}}
	engine, q, _ := newTestEngine(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &models.CreateBookingPayload{ServiceID: "srv-1"})
	require.NoError(t, err)

	engine.SetOnline(true)
	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SyncStatusFailed, results[0].Status)

	count, _ := engine.PendingCount(ctx)
	assert.Equal(t, 1, count)
	assert.Contains(t, engine.SyncError(), "1 mutation(s) failed")
}

func TestApplyMutation_StatusTransition(t *testing.T) {
	client := &fakeClient{}
	engine, q, db := newTestEngine(t, client)
	ctx := context.Background()

	cached, _ := json.Marshal(models.Booking{ID: "bk-1", Status: models.StatusPending})
	require.NoError(t, db.UpsertCached(ctx, models.CollectionBookings, []models.CacheEntry{
		{ID: "bk-1", Data: cached, Synced: true},
	}))

	_, err := q.Enqueue(ctx, &models.UpdateStatusPayload{BookingID: "bk-1", Status: models.StatusCancelled})
	require.NoError(t, err)

	engine.SetOnline(true)
	results, err := engine.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusSynced, results[0].Status)
	assert.Equal(t, 1, client.statusCalls)

	entry, err := db.GetCached(ctx, models.CollectionBookings, "bk-1")
	require.NoError(t, err)
	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Data, &snapshot))
	assert.Equal(t, models.StatusCancelled, snapshot["status"])
}
