package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

var errNetworkDown = errors.New("network down")

// flakySender records every request and fails while offline or when fail
// says so.
type flakySender struct {
	next    ActionSender
	mu      sync.Mutex
	offline bool
	fail    func(domain.ActionRequest) bool
	sent    []domain.ActionRequest
}

func (s *flakySender) Send(ctx context.Context, req domain.ActionRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	down := s.offline || (s.fail != nil && s.fail(req))
	s.mu.Unlock()
	if down {
		return errNetworkDown
	}
	return s.next.Send(ctx, req)
}

func (s *flakySender) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, r := range s.sent {
		out = append(out, string(r.Action))
	}
	return out
}

type replayFixture struct {
	clk    *clock.Manual
	device *gorm.DB
	remote *gorm.DB
	local  *LocalActions
	queue  *ActionQueue
	sender *flakySender
	server *ActionService
}

func newReplayFixture(t *testing.T) *replayFixture {
	t.Helper()
	clk := clock.NewManual(at(monday, 8, 0))
	device := newTestDB(t, "device")
	remote := newTestDB(t, "remote")

	server := &ActionService{
		DB:         remote,
		Clock:      clk,
		Log:        zerolog.Nop(),
		Doses:      newDoseService(remote, clk),
		ReceiptTTL: 24 * time.Hour,
	}
	sender := &flakySender{next: server}
	queue := NewActionQueue(device, clk, "u1", sender, zerolog.Nop())
	local := &LocalActions{Doses: newDoseService(device, clk), Queue: queue, Log: zerolog.Nop()}

	return &replayFixture{clk: clk, device: device, remote: remote, local: local, queue: queue, sender: sender, server: server}
}

// mirror seeds the same item, stock and dose on both sides.
func (f *replayFixture) mirror(t *testing.T, name string, stock int, due time.Time) domain.DoseInstance {
	t.Helper()
	it := seedItem(t, f.device, domain.MedicationItem{Name: name})
	remoteItem := it
	remoteItem.CreatedAt, remoteItem.UpdatedAt = time.Time{}, time.Time{}
	seedItem(t, f.remote, remoteItem)
	if stock >= 0 {
		seedStock(t, f.device, it.ID, stock, stock)
		seedStock(t, f.remote, it.ID, stock, stock)
	}
	d := seedDose(t, f.device, it, due)
	_, err := repo.InsertDoses(context.Background(), f.remote, []domain.DoseInstance{d})
	require.NoError(t, err)
	return d
}

func TestOfflineReplay_ThreeActionsInOrder(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	doseA := f.mirror(t, "A", -1, at(monday, 8, 0))
	doseB := f.mirror(t, "B", 5, at(monday, 8, 0))
	doseC := f.mirror(t, "C", -1, at(monday, 8, 0))

	f.sender.offline = true
	_, err := f.local.Skip(ctx, doseA.ID)
	require.NoError(t, err)
	_, err = f.local.Confirm(ctx, doseB.ID, ConfirmOptions{})
	require.NoError(t, err)
	_, err = f.local.Snooze(ctx, doseC.ID, 10)
	require.NoError(t, err)

	rep, err := f.queue.Sync(ctx)
	require.ErrorIs(t, err, ErrSyncFailure)
	require.ErrorIs(t, err, errNetworkDown)
	assert.Equal(t, 3, rep.Failed)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, 1, pending[0].Attempts)

	f.sender.offline = false
	f.sender.sent = nil
	f.clk.Advance(2 * time.Minute)

	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Attempted: 3, Synced: 3}, rep)
	assert.Equal(t, []string{"skip", "taken", "snooze"}, f.sender.actions())

	var left int64
	require.NoError(t, f.device.Model(&domain.OfflineAction{}).Where("synced = ?", false).Count(&left).Error)
	assert.Zero(t, left)

	assert.Equal(t, domain.DoseSkipped, reload(t, f.remote, doseA.ID).Status)
	b := reload(t, f.remote, doseB.ID)
	assert.Equal(t, domain.DoseTaken, b.Status)
	require.NotNil(t, b.TakenAt)
	assert.True(t, b.TakenAt.Equal(at(monday, 8, 0)), "remote keeps the device intake time")
	assert.Equal(t, 4, unitsLeft(t, f.remote, b.ItemID))
	c := reload(t, f.remote, doseC.ID)
	assert.True(t, c.DueAt.Equal(at(monday, 8, 10)))
	assert.Equal(t, 10, c.DelayMinutes)

	// The device already synced; a retried delivery of the same record is a replay.
	synced, err := repo.ListDoseEvents(ctx, f.remote, doseB.ID)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	res, err := f.server.Apply(ctx, domain.ActionRequest{DoseID: doseB.ID, Action: domain.ActionTaken, Timestamp: at(monday, 8, 0)})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 4, unitsLeft(t, f.remote, b.ItemID))
}

func TestSync_FailureBlocksOnlySameDose(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	x := f.mirror(t, "X", -1, at(monday, 9, 0))
	y := f.mirror(t, "Y", -1, at(monday, 9, 0))

	_, err := f.local.Snooze(ctx, x.ID, 15)
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.local.Confirm(ctx, x.ID, ConfirmOptions{})
	require.NoError(t, err)
	_, err = f.local.Skip(ctx, y.ID)
	require.NoError(t, err)

	f.sender.fail = func(r domain.ActionRequest) bool { return r.DoseID == x.ID && r.Action == domain.ActionSnooze }
	rep, err := f.queue.Sync(ctx)
	require.ErrorIs(t, err, ErrSyncFailure)
	assert.Equal(t, SyncReport{Attempted: 2, Synced: 1, Failed: 1, Blocked: 1}, rep)
	assert.Equal(t, domain.DoseScheduled, reload(t, f.remote, x.ID).Status, "taken must wait for the snooze")
	assert.Equal(t, domain.DoseSkipped, reload(t, f.remote, y.ID).Status)

	f.sender.fail = nil
	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Synced)
	got := reload(t, f.remote, x.ID)
	assert.Equal(t, domain.DoseTaken, got.Status)
	assert.Equal(t, 15, got.DelayMinutes)
}

func TestSync_RejectedRecordsRetrySlowlyThenRetire(t *testing.T) {
	f := newReplayFixture(t)
	f.queue.MaxAttempts = 2
	ctx := context.Background()

	d := f.mirror(t, "Z", -1, at(monday, 8, 0))
	// The remote side already swept the dose.
	ok, err := repo.TransitionDose(ctx, f.remote, d.ID, domain.DoseScheduled, map[string]any{"status": domain.DoseMissed})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.local.Confirm(ctx, d.ID, ConfirmOptions{})
	require.NoError(t, err)

	rep, err := f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rejected)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	rec := pending[0]
	assert.True(t, rec.Rejected)
	assert.False(t, rec.Synced)
	assert.Contains(t, rec.LastError, ErrInvalidTransition.Error())
	require.NotNil(t, rec.RetryAfter)
	assert.True(t, rec.RetryAfter.Equal(f.clk.Now().Add(6*time.Hour)))

	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted, "not before RetryAfter")

	f.clk.Advance(6 * time.Hour)
	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Attempted: 1, Rejected: 1}, rep)

	pending, err = f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Nil(t, pending[0].RetryAfter, "retired after MaxAttempts")

	f.clk.Advance(24 * time.Hour)
	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted)
}

func TestSync_UnknownDoseStaysQueued(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	// Known on the device, not yet materialized on the remote side.
	it := seedItem(t, f.device, domain.MedicationItem{Name: "Late"})
	d := seedDose(t, f.device, it, at(monday, 8, 0))

	_, err := f.local.Skip(ctx, d.ID)
	require.NoError(t, err)

	rep, err := f.queue.Sync(ctx)
	require.ErrorIs(t, err, ErrSyncFailure)
	require.ErrorIs(t, err, ErrDoseNotFound)
	assert.Equal(t, SyncReport{Attempted: 1, Failed: 1}, rep)

	remoteItem := it
	remoteItem.CreatedAt, remoteItem.UpdatedAt = time.Time{}, time.Time{}
	seedItem(t, f.remote, remoteItem)
	_, err = repo.InsertDoses(ctx, f.remote, []domain.DoseInstance{d})
	require.NoError(t, err)

	rep, err = f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Synced)
	assert.Equal(t, domain.DoseSkipped, reload(t, f.remote, d.ID).Status)
}

func TestLocalActions_SharedStoreReplayIsAcknowledged(t *testing.T) {
	clk := clock.NewManual(at(monday, 8, 0))
	db := newTestDB(t)
	doses := newDoseService(db, clk)
	doses.ReceiptTTL = time.Hour
	server := &ActionService{DB: db, Clock: clk, Log: zerolog.Nop(), Doses: doses, ReceiptTTL: time.Hour}
	queue := NewActionQueue(db, clk, "u1", server, zerolog.Nop())
	local := &LocalActions{Doses: doses, Queue: queue, Log: zerolog.Nop()}
	ctx := context.Background()

	it := seedItem(t, db, domain.MedicationItem{Name: "Shared"})
	seedStock(t, db, it.ID, 4, 4)
	snoozed := seedDose(t, db, it, at(monday, 8, 0))
	taken := seedDose(t, db, it, at(monday, 20, 0))

	_, err := local.Snooze(ctx, snoozed.ID, 15)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = local.Snooze(ctx, snoozed.ID, 15)
	require.NoError(t, err)
	_, err = local.Confirm(ctx, taken.ID, ConfirmOptions{})
	require.NoError(t, err)

	rep, err := queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Attempted: 3, Synced: 3}, rep)

	got := reload(t, db, snoozed.ID)
	assert.Equal(t, 30, got.DelayMinutes)
	assert.True(t, got.DueAt.Equal(at(monday, 8, 30)))
	assert.Equal(t, 3, unitsLeft(t, db, it.ID))

	events, err := repo.ListDoseEvents(ctx, db, snoozed.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEnqueue_Validates(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "", domain.ActionSkip, 0)
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = f.queue.Enqueue(ctx, "d1", domain.ActionKind("pause"), 0)
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = f.queue.Enqueue(ctx, "d1", domain.ActionSnooze, 0)
	assert.ErrorIs(t, err, ErrInvalidSnooze)

	a, err := f.queue.Enqueue(ctx, "d1", domain.ActionTaken, 30)
	require.NoError(t, err)
	assert.Zero(t, a.Minutes)
	assert.True(t, a.Timestamp.Equal(at(monday, 8, 0)))
}

func TestPurge_DropsOldSyncedRecords(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()
	d := f.mirror(t, "P", -1, at(monday, 8, 0))

	_, err := f.local.Skip(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.queue.Sync(ctx)
	require.NoError(t, err)

	n, err := f.queue.Purge(ctx, f.clk.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.queue.Purge(ctx, f.clk.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestActionService_SendMapsRuleErrorsToRejected(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	err := f.server.Send(ctx, domain.ActionRequest{
		DoseID: "nope", Action: domain.ActionSkip, Timestamp: at(monday, 8, 0),
	})
	require.ErrorIs(t, err, ErrDoseNotFound)
	assert.False(t, IsPermanent(err), "an unknown dose may still be materialized")

	err = f.server.Send(ctx, domain.ActionRequest{
		DoseID: "nope", Action: domain.ActionSnooze, Minutes: 0, Timestamp: at(monday, 8, 0),
	})
	require.ErrorIs(t, err, ErrInvalidSnooze)
	assert.True(t, IsPermanent(err))

	assert.False(t, IsPermanent(errNetworkDown))
}
