package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
	"github.com/lalithlochan/chime/internal/redis"
)

type fakeTargets struct {
	mu          sync.Mutex
	targets     []*db.Target
	err         error
	deactivated []uuid.UUID
	notified    []uuid.UUID
}

func (f *fakeTargets) TargetsFor(ctx context.Context, ownerID uuid.UUID, channels []string) ([]*db.Target, error) {
	return f.targets, f.err
}

func (f *fakeTargets) DeactivateTarget(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeTargets) MarkTargetNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

type fakeSubjects struct {
	snap *db.Snapshot
	err  error
}

func (f *fakeSubjects) SubjectSnapshot(ctx context.Context, kind string, id uuid.UUID) (*db.Snapshot, error) {
	return f.snap, f.err
}

// fakeSender returns a canned error per endpoint.
type fakeSender struct {
	mu       sync.Mutex
	errs     map[string]error
	attempts []string
}

func (f *fakeSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, target.Endpoint)
	f.mu.Unlock()
	return f.errs[target.Endpoint]
}

func (f *fakeSender) SupportsChannel(channel string) bool { return true }

type fakeGuard struct {
	mu       sync.Mutex
	acquired bool
	refuse   bool
	released bool
}

func (f *fakeGuard) Acquire(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeGuard) Release(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

type fakeThrottle struct {
	allowed bool
}

func (f *fakeThrottle) Allow(ctx context.Context, ownerID uuid.UUID) (*redis.ThrottleResult, error) {
	return &redis.ThrottleResult{Allowed: f.allowed, ResetAt: time.Now().Add(time.Hour)}, nil
}

func target(channel, endpoint string) *db.Target {
	return &db.Target{ID: uuid.New(), OwnerID: uuid.New(), Channel: channel, Endpoint: endpoint, Active: true}
}

func standaloneReminder() *db.Reminder {
	msg := "drink water"
	return &db.Reminder{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		SubjectKind: db.SubjectStandalone,
		Kind:        db.KindRecurring,
		SubKind:     db.SubKindMain,
		Channels:    []string{db.ChannelPush, db.ChannelEmail},
		Message:     &msg,
	}
}

func newTestDispatcher(targets *fakeTargets, subjects *fakeSubjects, sender Sender, guard Guard, throttle Throttle) *Dispatcher {
	return New(targets, subjects, sender, guard, throttle, Config{
		Concurrency:    4,
		AttemptTimeout: time.Second,
	}, zap.NewNop())
}

func TestDispatch_DeliversToAllTargets(t *testing.T) {
	targets := &fakeTargets{targets: []*db.Target{
		target(db.ChannelPush, "https://push.example/abc"),
		target(db.ChannelEmail, "owner@example.com"),
	}}
	sender := &fakeSender{errs: map[string]error{}}
	guard := &fakeGuard{}

	d := newTestDispatcher(targets, &fakeSubjects{}, sender, guard, nil)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", result.Delivered)
	}
	if !result.Succeeded() {
		t.Error("result should count as success")
	}
	if len(targets.notified) != 2 {
		t.Errorf("notified %d targets, want 2", len(targets.notified))
	}
	if !guard.acquired {
		t.Error("guard should have been acquired")
	}
}

func TestDispatch_PermanentFailureDeactivatesTarget(t *testing.T) {
	dead := target(db.ChannelPush, "https://push.example/gone")
	targets := &fakeTargets{targets: []*db.Target{
		dead,
		target(db.ChannelEmail, "owner@example.com"),
	}}
	sender := &fakeSender{errs: map[string]error{
		"https://push.example/gone": &PermanentError{Reason: "endpoint gone"},
	}}

	d := newTestDispatcher(targets, &fakeSubjects{}, sender, nil, nil)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.Delivered != 1 || result.Permanent != 1 {
		t.Errorf("delivered=%d permanent=%d, want 1/1", result.Delivered, result.Permanent)
	}
	if !result.Succeeded() {
		t.Error("one delivered target should count as success")
	}
	if len(targets.deactivated) != 1 || targets.deactivated[0] != dead.ID {
		t.Errorf("deactivated = %v, want [%s]", targets.deactivated, dead.ID)
	}
}

func TestDispatch_AllTransientReleasesGuard(t *testing.T) {
	targets := &fakeTargets{targets: []*db.Target{
		target(db.ChannelEmail, "owner@example.com"),
	}}
	sender := &fakeSender{errs: map[string]error{
		"owner@example.com": errors.New("ses timeout"),
	}}
	guard := &fakeGuard{}

	d := newTestDispatcher(targets, &fakeSubjects{}, sender, guard, nil)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.Delivered != 0 || result.Transient != 1 {
		t.Errorf("delivered=%d transient=%d, want 0/1", result.Delivered, result.Transient)
	}
	if result.Succeeded() {
		t.Error("all-transient dispatch should not count as success")
	}
	if !guard.released {
		t.Error("guard should have been released so a retry can send")
	}
}

func TestDispatch_SubjectGone(t *testing.T) {
	rem := standaloneReminder()
	id := uuid.New()
	rem.SubjectID = &id
	rem.SubjectKind = db.SubjectTask

	sender := &fakeSender{errs: map[string]error{}}
	d := newTestDispatcher(
		&fakeTargets{targets: []*db.Target{target(db.ChannelPush, "x")}},
		&fakeSubjects{err: db.ErrSubjectNotFound},
		sender, nil, nil,
	)

	result, err := d.Dispatch(context.Background(), rem, time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !result.SubjectGone {
		t.Error("expected SubjectGone")
	}
	if len(sender.attempts) != 0 {
		t.Errorf("no delivery should be attempted, got %v", sender.attempts)
	}
}

func TestDispatch_CompletedSubjectSkipsDelivery(t *testing.T) {
	rem := standaloneReminder()
	id := uuid.New()
	rem.SubjectID = &id
	rem.SubjectKind = db.SubjectTask

	sender := &fakeSender{errs: map[string]error{}}
	d := newTestDispatcher(
		&fakeTargets{targets: []*db.Target{target(db.ChannelPush, "x")}},
		&fakeSubjects{snap: &db.Snapshot{Title: "Pay rent", Completed: true}},
		sender, nil, nil,
	)

	result, err := d.Dispatch(context.Background(), rem, time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !result.SubjectDone {
		t.Error("expected SubjectDone")
	}
	if len(sender.attempts) != 0 {
		t.Errorf("no delivery should be attempted, got %v", sender.attempts)
	}
	if !result.Succeeded() {
		t.Error("completed subject is a quiet success")
	}
}

func TestDispatch_NoTargets(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{}}
	d := newTestDispatcher(&fakeTargets{}, &fakeSubjects{}, sender, nil, nil)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !result.NoTargets {
		t.Error("expected NoTargets")
	}
	if !result.Succeeded() {
		t.Error("no targets is nothing-to-do, not a failure")
	}
}

func TestDispatch_DedupedOccurrenceNotResent(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{}}
	guard := &fakeGuard{refuse: true}
	d := newTestDispatcher(
		&fakeTargets{targets: []*db.Target{target(db.ChannelPush, "x")}},
		&fakeSubjects{}, sender, guard, nil,
	)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !result.Deduped {
		t.Error("expected Deduped")
	}
	if len(sender.attempts) != 0 {
		t.Errorf("deduped occurrence must not be resent, got %v", sender.attempts)
	}
}

func TestDispatch_ThrottledOwner(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{}}
	d := newTestDispatcher(
		&fakeTargets{targets: []*db.Target{target(db.ChannelPush, "x")}},
		&fakeSubjects{}, sender, nil, &fakeThrottle{allowed: false},
	)

	result, err := d.Dispatch(context.Background(), standaloneReminder(), time.Now())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !result.Throttled {
		t.Error("expected Throttled")
	}
	if len(sender.attempts) != 0 {
		t.Errorf("throttled dispatch must not send, got %v", sender.attempts)
	}
}

func TestComposeMessage(t *testing.T) {
	occurrence := time.Now()

	rem := standaloneReminder()
	msg := composeMessage(rem, nil, occurrence)
	if msg.Title != "Reminder" || msg.Body != "drink water" {
		t.Errorf("standalone: title=%q body=%q", msg.Title, msg.Body)
	}

	rem.SubKind = db.SubKindUrgent
	msg = composeMessage(rem, &db.Snapshot{Title: "Dentist"}, occurrence)
	if msg.Title != "Dentist" || msg.Body != "Time to leave: Dentist" {
		t.Errorf("urgent: title=%q body=%q", msg.Title, msg.Body)
	}

	rem.SubKind = db.SubKindPrepare
	msg = composeMessage(rem, &db.Snapshot{Title: "Dentist"}, occurrence)
	if msg.Body != "Start getting ready: Dentist" {
		t.Errorf("prepare: body=%q", msg.Body)
	}

	rem.SubKind = db.SubKindMain
	rem.Kind = db.KindBeforeDue
	rem.Message = nil
	msg = composeMessage(rem, &db.Snapshot{Title: "Pay rent"}, occurrence)
	if msg.Body != "Pay rent is due soon" {
		t.Errorf("before_due: body=%q", msg.Body)
	}
}
