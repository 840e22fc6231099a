package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory Repository that records transaction outcomes.
type fakeRepo struct {
	mu             sync.Mutex
	events         map[string]*Event
	activeBookings map[string][]string
	nextID         int

	updateErr      error
	commitCalled   bool
	rollbackCalled bool
	lockedIDs      []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: map[string]*Event{}, activeBookings: map[string][]string{}}
}

func (f *fakeRepo) seed(e Event) Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = fmt.Sprintf("event-%d", f.nextID)
	if e.MaxCapacity == 0 {
		e.MaxCapacity = 10
	}
	if e.EndsAt.IsZero() {
		e.StartsAt = time.Now().Add(24 * time.Hour)
		e.EndsAt = e.StartsAt.Add(2 * time.Hour)
	}
	copied := e
	f.events[e.ID] = &copied
	return e
}

func (f *fakeRepo) Create(_ context.Context, p CreateParams) (*Event, error) {
	f.mu.Lock()
	for _, e := range f.events {
		if strings.EqualFold(e.Title, p.Title) {
			f.mu.Unlock()
			return nil, ErrTitleTaken
		}
	}
	f.mu.Unlock()
	e := f.seed(Event{
		Title: p.Title, Description: p.Description, Location: p.Location,
		StartsAt: p.StartsAt, EndsAt: p.EndsAt, MaxCapacity: p.MaxCapacity,
		Status: p.Status, CreatedBy: p.CreatedBy,
	})
	return &e, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeRepo) GetByIDForUpdate(ctx context.Context, id string) (*Event, error) {
	f.mu.Lock()
	f.lockedIDs = append(f.lockedIDs, id)
	f.mu.Unlock()
	return f.GetByID(ctx, id)
}

func (f *fakeRepo) List(_ context.Context, filters Filters) ([]Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if filters.Status != "" && e.Status != filters.Status {
			continue
		}
		if !filters.IncludeHidden && !e.Status.Public() {
			continue
		}
		out = append(out, *e)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) Update(_ context.Context, id string, p UpdateParams) (*Event, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.Title, e.Description, e.Location = p.Title, p.Description, p.Location
	e.StartsAt, e.EndsAt = p.StartsAt, p.EndsAt
	e.MaxCapacity, e.CurrentBookings, e.Status = p.MaxCapacity, p.CurrentBookings, p.Status
	copied := *e
	return &copied, nil
}

func (f *fakeRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return ErrNotFound
	}
	delete(f.events, id)
	return nil
}

func (f *fakeRepo) CancelActiveBookings(_ context.Context, eventID, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.activeBookings[eventID]
	delete(f.activeBookings, eventID)
	return ids, nil
}

func (f *fakeRepo) SweepStatuses(_ context.Context, now time.Time) (SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result SweepResult
	for _, e := range f.events {
		if !now.After(e.EndsAt) {
			continue
		}
		switch e.Status {
		case StatusPublished:
			e.Status = StatusCompleted
			result.Completed++
		case StatusDraft:
			e.Status = StatusExpired
			result.Expired++
		}
	}
	return result, nil
}

func (f *fakeRepo) BeginTx(_ context.Context) (Repository, TxCommitter, error) {
	return f, &fakeTx{repo: f}, nil
}

type fakeTx struct {
	repo      *fakeRepo
	committed bool
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.committed = true
	t.repo.commitCalled = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.committed {
		t.repo.rollbackCalled = true
	}
	return nil
}

type recordedNotification struct {
	bookingID string
	status    string
}

type fakeNotifier struct {
	calls []recordedNotification
}

func (n *fakeNotifier) BookingStatusChanged(_ context.Context, bookingID, status string) error {
	n.calls = append(n.calls, recordedNotification{bookingID, status})
	return nil
}

func newAdminService(repo *fakeRepo, notifier BookingNotifier) *AdminService {
	return NewAdminService(repo, notifier, zerolog.Nop())
}

func futureParams(title string) CreateEventParams {
	start := time.Now().Add(48 * time.Hour)
	return CreateEventParams{
		Title:       title,
		Description: "<p>Live set</p><script>alert(1)</script>",
		Location:    "Main Hall",
		StartsAt:    start,
		EndsAt:      start.Add(3 * time.Hour),
		MaxCapacity: 100,
	}
}

func TestCreateEvent_DefaultsToDraftAndSanitizes(t *testing.T) {
	repo := newFakeRepo()
	svc := newAdminService(repo, nil)

	event, err := svc.CreateEvent(context.Background(), futureParams("<b>Jazz</b> Night"), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, event.Status)
	assert.Equal(t, "Jazz Night", event.Title)
	assert.Equal(t, "<p>Live set</p>", event.Description)
	require.NotNil(t, event.CreatedBy)
	assert.Equal(t, "admin-1", *event.CreatedBy)
}

func TestCreateEvent_Validation(t *testing.T) {
	svc := newAdminService(newFakeRepo(), nil)

	params := futureParams("Bad Times")
	params.EndsAt = params.StartsAt.Add(-time.Hour)
	params.MaxCapacity = 0
	_, err := svc.CreateEvent(context.Background(), params, "")

	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Map(), "endsAt")
	assert.Contains(t, verr.Map(), "maxCapacity")
}

func TestCreateEvent_CannotPublishPastEvent(t *testing.T) {
	svc := newAdminService(newFakeRepo(), nil)

	params := futureParams("Yesterday")
	params.StartsAt = time.Now().Add(-48 * time.Hour)
	params.EndsAt = time.Now().Add(-24 * time.Hour)
	params.Status = "published"
	_, err := svc.CreateEvent(context.Background(), params, "")

	assert.ErrorIs(t, err, ErrPastEvent)
}

func TestCreateEvent_DuplicateTitle(t *testing.T) {
	svc := newAdminService(newFakeRepo(), nil)
	_, err := svc.CreateEvent(context.Background(), futureParams("Gala"), "")
	require.NoError(t, err)

	_, err = svc.CreateEvent(context.Background(), futureParams("gala"), "")
	assert.ErrorIs(t, err, ErrTitleTaken)
	assert.True(t, IsConflict(err))
}

func TestUpdateEvent_PublishLocksAndCommits(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Draft", Status: StatusDraft})
	svc := newAdminService(repo, nil)

	status := "published"
	updated, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, updated.Status)
	assert.Equal(t, []string{event.ID}, repo.lockedIDs)
	assert.True(t, repo.commitCalled)
	assert.False(t, repo.rollbackCalled)
}

func TestUpdateEvent_CannotPublishPastEvent(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-2 * time.Hour)
	event := repo.seed(Event{Title: "Old", Status: StatusDraft, StartsAt: past, EndsAt: past.Add(time.Hour)})
	svc := newAdminService(repo, nil)

	status := "published"
	_, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{Status: &status})
	assert.ErrorIs(t, err, ErrPastEvent)
	assert.False(t, repo.commitCalled)
	assert.True(t, repo.rollbackCalled)
}

func TestUpdateEvent_EditPastPublishedEventAllowed(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-2 * time.Hour)
	event := repo.seed(Event{Title: "Done", Status: StatusPublished, StartsAt: past, EndsAt: past.Add(time.Hour)})
	svc := newAdminService(repo, nil)

	title := "Done (photos posted)"
	updated, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
}

func TestUpdateEvent_CannotUncancel(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Gone", Status: StatusCanceled})
	svc := newAdminService(repo, nil)

	status := "published"
	_, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{Status: &status})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, IsConflict(err))
}

func TestUpdateEvent_CapacityBelowBookings(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Busy", Status: StatusPublished, MaxCapacity: 10, CurrentBookings: 6})
	svc := newAdminService(repo, nil)

	capacity := 5
	_, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{MaxCapacity: &capacity})
	assert.ErrorIs(t, err, ErrCapacityBelowBookings)

	capacity = 6
	updated, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{MaxCapacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 6, updated.MaxCapacity)
}

func TestUpdateEvent_InvalidTimes(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Times", Status: StatusDraft})
	svc := newAdminService(repo, nil)

	endsAt := event.StartsAt.Add(-time.Minute)
	_, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{EndsAt: &endsAt})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Map(), "endsAt")
}

func TestCancelEvent_CascadesToBookings(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Storm", Status: StatusPublished, CurrentBookings: 2})
	repo.activeBookings[event.ID] = []string{"booking-1", "booking-2"}
	notifier := &fakeNotifier{}
	svc := newAdminService(repo, notifier)

	updated, err := svc.CancelEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, updated.Status)
	assert.Zero(t, updated.CurrentBookings)
	assert.Equal(t, []recordedNotification{
		{"booking-1", "canceled"},
		{"booking-2", "canceled"},
	}, notifier.calls)
}

func TestUpdateEvent_RollbackOnWriteFailure(t *testing.T) {
	repo := newFakeRepo()
	event := repo.seed(Event{Title: "Fails", Status: StatusPublished, CurrentBookings: 1})
	repo.activeBookings[event.ID] = []string{"booking-1"}
	repo.updateErr = errors.New("disk full")
	notifier := &fakeNotifier{}
	svc := newAdminService(repo, notifier)

	_, err := svc.CancelEvent(context.Background(), event.ID)
	require.Error(t, err)
	assert.True(t, repo.rollbackCalled)
	assert.False(t, repo.commitCalled)
	assert.Empty(t, notifier.calls, "no notifications for a rolled back cancel")
}

func TestDeleteEvent(t *testing.T) {
	repo := newFakeRepo()
	busy := repo.seed(Event{Title: "Busy", Status: StatusPublished, CurrentBookings: 1})
	empty := repo.seed(Event{Title: "Empty", Status: StatusPublished})
	svc := newAdminService(repo, nil)

	assert.ErrorIs(t, svc.DeleteEvent(context.Background(), busy.ID), ErrHasActiveBookings)
	require.NoError(t, svc.DeleteEvent(context.Background(), empty.ID))
	assert.ErrorIs(t, svc.DeleteEvent(context.Background(), empty.ID), ErrNotFound)
}

func TestDeleteEvent_ChecksUnderRowLock(t *testing.T) {
	repo := newFakeRepo()
	empty := repo.seed(Event{Title: "Empty", Status: StatusPublished})
	svc := newAdminService(repo, nil)

	require.NoError(t, svc.DeleteEvent(context.Background(), empty.ID))
	assert.Equal(t, []string{empty.ID}, repo.lockedIDs)
	assert.True(t, repo.commitCalled)

	busy := repo.seed(Event{Title: "Busy", Status: StatusPublished, CurrentBookings: 2})
	repo.commitCalled, repo.rollbackCalled = false, false
	assert.ErrorIs(t, svc.DeleteEvent(context.Background(), busy.ID), ErrHasActiveBookings)
	assert.Equal(t, []string{empty.ID, busy.ID}, repo.lockedIDs)
	assert.False(t, repo.commitCalled)
	assert.True(t, repo.rollbackCalled)

	_, err := repo.GetByID(context.Background(), busy.ID)
	assert.NoError(t, err, "a refused delete keeps the event")
}

func TestUpdateEvent_ExpiredIsNotSettable(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-3 * time.Hour)
	event := repo.seed(Event{Title: "Stale draft", Status: StatusDraft, StartsAt: past, EndsAt: past.Add(time.Hour)})
	svc := newAdminService(repo, nil)

	status := "expired"
	_, err := svc.UpdateEvent(context.Background(), event.ID, UpdateEventParams{Status: &status})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Map(), "status")
	assert.Empty(t, repo.lockedIDs, "validation fails before any lock is taken")

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Expired)
}

func TestSweep(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-3 * time.Hour)
	repo.seed(Event{Title: "Ran", Status: StatusPublished, StartsAt: past, EndsAt: past.Add(time.Hour)})
	repo.seed(Event{Title: "Never published", Status: StatusDraft, StartsAt: past, EndsAt: past.Add(time.Hour)})
	repo.seed(Event{Title: "Upcoming", Status: StatusPublished})
	svc := newAdminService(repo, nil)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Completed: 1, Expired: 1}, result)
}
