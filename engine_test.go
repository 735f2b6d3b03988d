package autoflow_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/andrewwormald/autoflow"
	"github.com/andrewwormald/autoflow/adapters/memrolescheduler"
	"github.com/andrewwormald/autoflow/adapters/memstore"
	"github.com/andrewwormald/autoflow/adapters/memstreamer"
	"github.com/andrewwormald/autoflow/adapters/memtaskstore"
)

// recordingExecutor collects every applied action so tests can assert on what
// the engine decided to do.
type recordingExecutor struct {
	mu      sync.Mutex
	applied []autoflow.Action
	err     error
}

func (r *recordingExecutor) Apply(ctx context.Context, tenantID int64, target autoflow.EntityRef, action autoflow.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.applied = append(r.applied, action)
	return nil
}

func (r *recordingExecutor) actions() []autoflow.Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]autoflow.Action(nil), r.applied...)
}

type deps struct {
	rules       *memstore.RuleStore
	journeys    *memstore.JourneyStore
	enrollments *memstore.EnrollmentStore
	tasks       *memtaskstore.Store
	logs        *memstore.LogStore
	idempotency *memstore.IdempotencyStore
	streamer    *memstreamer.StreamConstructor
	executor    *recordingExecutor
	snapshot    autoflow.Snapshot
}

func newDeps() *deps {
	return &deps{
		rules:       memstore.NewRuleStore(),
		journeys:    memstore.NewJourneyStore(),
		enrollments: memstore.NewEnrollmentStore(),
		tasks:       memtaskstore.New(),
		logs:        memstore.NewLogStore(),
		idempotency: memstore.NewIdempotencyStore(),
		streamer:    memstreamer.New(),
		executor:    &recordingExecutor{},
		snapshot:    autoflow.Snapshot{},
	}
}

func (d *deps) engine(opts ...autoflow.Option) *autoflow.Engine {
	return autoflow.New(
		d.rules,
		d.journeys,
		d.enrollments,
		d.tasks,
		d.logs,
		d.idempotency,
		d.streamer,
		memrolescheduler.New(),
		d.executor,
		func(ctx context.Context, tenantID int64, ref autoflow.EntityRef) (autoflow.Snapshot, error) {
			return d.snapshot, nil
		},
		opts...,
	)
}

func contact(id string) autoflow.EntityRef {
	return autoflow.EntityRef{Type: autoflow.EntityContact, ID: id}
}

func TestDispatchRequiresRun(t *testing.T) {
	d := newDeps()
	e := d.engine()

	err := e.Dispatch(context.Background(), 1, autoflow.EventFormSubmitted, contact("c1"), autoflow.Snapshot{})
	require.ErrorIs(t, err, autoflow.ErrEngineNotRunning)
}

func TestDispatchAssignmentFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine()
	e.Run(ctx)
	t.Cleanup(e.Stop)

	for _, r := range []autoflow.Rule{
		{
			TenantID: 1, Name: "assign low", Priority: 5, Active: true,
			EventType: autoflow.EventFormSubmitted,
			Action:    autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "owner-low"},
		},
		{
			TenantID: 1, Name: "assign high", Priority: 10, Active: true,
			EventType: autoflow.EventFormSubmitted,
			Action:    autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "owner-high"},
		},
		{
			TenantID: 1, Name: "score a", Priority: 8, Active: true,
			EventType: autoflow.EventFormSubmitted,
			Action:    autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 10},
		},
		{
			TenantID: 1, Name: "score b", Priority: 1, Active: true,
			EventType: autoflow.EventFormSubmitted,
			Action:    autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 20},
		},
	} {
		r := r
		_, err := e.CreateRule(ctx, &r)
		require.Nil(t, err)
	}

	err := e.Dispatch(ctx, 1, autoflow.EventFormSubmitted, contact("c1"), autoflow.Snapshot{"any": true})
	require.Nil(t, err)

	var owners []string
	var points int64
	for _, a := range d.executor.actions() {
		switch a.Kind {
		case autoflow.ActionAssignOwner:
			owners = append(owners, a.OwnerID)
		case autoflow.ActionAddPoints:
			points += a.Points
		}
	}

	// Only the highest priority assignment applies, scoring accumulates.
	require.Equal(t, []string{"owner-high"}, owners)
	require.Equal(t, int64(30), points)
}

func TestDispatchIdempotencyToken(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine()
	e.Run(ctx)
	t.Cleanup(e.Stop)

	_, err := e.CreateRule(ctx, &autoflow.Rule{
		TenantID: 1, Name: "score", Priority: 1, Active: true,
		EventType: autoflow.EventFormSubmitted,
		Action:    autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 10},
	})
	require.Nil(t, err)

	for i := 0; i < 3; i++ {
		err = e.Dispatch(ctx, 1, autoflow.EventFormSubmitted, contact("c1"),
			autoflow.Snapshot{}, autoflow.WithIdempotencyToken("evt-1"))
		require.Nil(t, err)
	}

	require.Len(t, d.executor.actions(), 1)

	// A different token is a new event.
	err = e.Dispatch(ctx, 1, autoflow.EventFormSubmitted, contact("c1"),
		autoflow.Snapshot{}, autoflow.WithIdempotencyToken("evt-2"))
	require.Nil(t, err)
	require.Len(t, d.executor.actions(), 2)
}

func TestJourneyLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine(autoflow.WithPollFrequency(time.Millisecond * 10))
	e.Run(ctx)
	t.Cleanup(e.Stop)

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "welcome", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "step-one"}},
			{ID: 2, OrderNo: 2, Type: autoflow.StepWait, Delay: time.Millisecond},
			{ID: 3, OrderNo: 3, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "step-three"}},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		current, err := d.enrollments.Lookup(ctx, 1, en.ID)
		return err == nil && current.Status == autoflow.StatusCompleted
	}, time.Second*5, time.Millisecond*10)

	var owners []string
	for _, a := range d.executor.actions() {
		owners = append(owners, a.OwnerID)
	}
	require.Equal(t, []string{"step-one", "step-three"}, owners)

	final, err := d.enrollments.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, []int64{1, 2, 3}, final.Data.CompletedSteps)
	require.False(t, final.CompletedAt.IsZero())
}

func TestEnrollExclusive(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine()

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "drip", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepWait, Delay: time.Hour},
		},
	})
	require.Nil(t, err)

	_, err = e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	_, err = e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.ErrorIs(t, err, autoflow.ErrAlreadyEnrolled)

	// Another target is unaffected.
	_, err = e.Enroll(ctx, 1, journeyID, contact("c2"))
	require.Nil(t, err)
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := clocktesting.NewFakeClock(t0)

	d := newDeps()
	d.tasks = memtaskstore.New(memtaskstore.WithClock(c))
	e := d.engine(autoflow.WithClock(c))

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "nurture", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepWait, Delay: time.Minute * 10},
			{ID: 2, OrderNo: 2, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 1}},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	// Two minutes into the ten minute delay, eight remain.
	c.Step(time.Minute * 2)

	err = e.Pause(ctx, 1, en.ID)
	require.Nil(t, err)

	paused, err := d.enrollments.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, autoflow.StatusPaused, paused.Status)
	require.Equal(t, time.Minute*8, paused.RemainingDelay)

	pending, err := d.tasks.Pending(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Empty(t, pending)

	// Pausing twice is rejected.
	err = e.Pause(ctx, 1, en.ID)
	require.ErrorIs(t, err, autoflow.ErrUnableToPause)

	err = e.Resume(ctx, 1, en.ID)
	require.Nil(t, err)

	resumed, err := d.enrollments.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, autoflow.StatusActive, resumed.Status)
	require.Zero(t, resumed.RemainingDelay)

	pending, err = d.tasks.Pending(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, c.Now().Add(time.Minute*8), pending[0].RunAt)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine()

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "drip", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepWait, Delay: time.Hour},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	err = e.Cancel(ctx, 1, en.ID)
	require.Nil(t, err)

	cancelled, err := d.enrollments.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, autoflow.StatusCancelled, cancelled.Status)
	require.False(t, cancelled.CompletedAt.IsZero())

	pending, err := d.tasks.Pending(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Empty(t, pending)

	// Cancelled is terminal.
	err = e.Resume(ctx, 1, en.ID)
	require.ErrorIs(t, err, autoflow.ErrUnableToResume)
	err = e.Cancel(ctx, 1, en.ID)
	require.ErrorIs(t, err, autoflow.ErrUnableToCancel)

	// The target is free to enroll afresh.
	_, err = e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)
}

func TestBoundedRetryFailsEnrollment(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	d.executor.err = errors.New("downstream unavailable")

	e := d.engine(
		autoflow.WithPollFrequency(time.Millisecond*10),
		autoflow.WithMaxTaskAttempts(2),
		autoflow.WithTaskRetryBackoff(time.Millisecond),
	)
	e.Run(ctx)
	t.Cleanup(e.Stop)

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "flaky", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 1}},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		current, err := d.enrollments.Lookup(ctx, 1, en.ID)
		return err == nil && current.Status == autoflow.StatusFailed
	}, time.Second*5, time.Millisecond*10)

	entries, err := d.logs.ListByTenant(ctx, 1)
	require.Nil(t, err)

	var failed bool
	for _, entry := range entries {
		if entry.Outcome == autoflow.OutcomeFailed {
			failed = true
		}
	}
	require.True(t, failed)
}

func TestBranchStep(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	d.snapshot = autoflow.Snapshot{"score": 80}

	e := d.engine(autoflow.WithPollFrequency(time.Millisecond * 10))
	e.Run(ctx)
	t.Cleanup(e.Stop)

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 1, Name: "qualify", Kind: autoflow.KindJourney, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepBranch, Branch: &autoflow.Branch{
				Condition: autoflow.Condition{Criteria: []autoflow.Criterion{
					{Field: "score", Op: autoflow.OpGTE, Value: 50},
				}},
				NextOrderNo: 3,
				ElseOrderNo: 2,
			}},
			{ID: 2, OrderNo: 2, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "nurture"}},
			{ID: 3, OrderNo: 3, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAssignOwner, OwnerID: "sales"}},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 1, journeyID, contact("c1"))
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		current, err := d.enrollments.Lookup(ctx, 1, en.ID)
		return err == nil && current.Status == autoflow.StatusCompleted
	}, time.Second*5, time.Millisecond*10)

	var owners []string
	for _, a := range d.executor.actions() {
		owners = append(owners, a.OwnerID)
	}
	require.Equal(t, []string{"sales"}, owners)
}

func TestOutboxPublishesEnrollmentEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := newDeps()
	e := d.engine(autoflow.WithPollFrequency(time.Millisecond * 10))
	e.Run(ctx)
	t.Cleanup(e.Stop)

	journeyID, err := e.CreateJourney(ctx, &autoflow.Journey{
		TenantID: 7, Name: "welcome", Kind: autoflow.KindSequence, Active: true,
		Steps: []autoflow.Step{
			{ID: 1, OrderNo: 1, Type: autoflow.StepAction, Action: &autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 1}},
		},
	})
	require.Nil(t, err)

	en, err := e.Enroll(ctx, 7, journeyID, contact("c1"))
	require.Nil(t, err)

	receiver, err := d.streamer.NewReceiver(ctx, autoflow.EnrollmentTopic(7), "consumer-1")
	require.Nil(t, err)
	t.Cleanup(func() { _ = receiver.Close() })

	recvCtx, recvCancel := context.WithTimeout(ctx, time.Second*5)
	defer recvCancel()

	event, ack, err := receiver.Recv(recvCtx)
	require.Nil(t, err)
	require.Equal(t, en.ID, event.ForeignID)
	require.Equal(t, strconv.FormatInt(7, 10), event.Headers[autoflow.HeaderTenantID])
	require.Nil(t, ack())
}
