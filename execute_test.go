package autoflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJourneyStore struct {
	JourneyStore
	jn *Journey
}

func (s *stubJourneyStore) Lookup(ctx context.Context, tenantID, id int64) (*Journey, error) {
	jn := *s.jn
	return &jn, nil
}

type stubEnrollmentStore struct {
	EnrollmentStore
	en *Enrollment
}

func (s *stubEnrollmentStore) Lookup(ctx context.Context, tenantID int64, id string) (*Enrollment, error) {
	en := *s.en
	return &en, nil
}

func (s *stubEnrollmentStore) Update(ctx context.Context, en *Enrollment) error {
	clone := *en
	clone.Version++
	s.en = &clone
	return nil
}

type stubTaskStore struct {
	TaskStore
	created []*Task
}

func (s *stubTaskStore) Create(ctx context.Context, task *Task) (int64, error) {
	s.created = append(s.created, task)
	return int64(len(s.created)), nil
}

type stubLogStore struct {
	LogStore
	entries []*LogEntry
}

func (s *stubLogStore) Append(ctx context.Context, entry *LogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

// Executing the same step twice, as happens when a completed task's fire
// races its completion, must apply the action once and reschedule the step
// the enrollment is actually on.
func TestExecuteStepDuplicateFire(t *testing.T) {
	ctx := context.Background()

	jn := &Journey{
		ID:       10,
		TenantID: 1,
		Name:     "welcome",
		Kind:     KindSequence,
		Active:   true,
		Steps: []Step{
			{ID: 1, OrderNo: 1, Type: StepAction, Action: &Action{Kind: ActionAssignOwner, OwnerID: "owner-1"}},
			{ID: 2, OrderNo: 2, Type: StepWait, Delay: 0},
		},
	}

	enrollments := &stubEnrollmentStore{en: &Enrollment{
		ID:             "en-1",
		TenantID:       1,
		JourneyID:      10,
		Target:         EntityRef{Type: EntityContact, ID: "c-1"},
		Status:         StatusActive,
		CurrentOrderNo: 1,
		Version:        1,
	}}
	tasks := &stubTaskStore{}
	logs := &stubLogStore{}

	var applied int
	executor := ActionExecutorFunc(func(ctx context.Context, tenantID int64, target EntityRef, action Action) error {
		applied++
		return nil
	})

	e := New(nil, &stubJourneyStore{jn: jn}, enrollments, tasks, logs, nil, nil, nil, executor, nil)

	require.Nil(t, e.executeStep(ctx, 1, "en-1", 1))
	require.Equal(t, 1, applied)
	require.Equal(t, []int64{1}, enrollments.en.Data.CompletedSteps)
	require.Equal(t, 2, enrollments.en.CurrentOrderNo)
	require.Len(t, tasks.created, 1)
	require.Equal(t, int64(2), tasks.created[0].StepID)

	// Same task fires again.
	require.Nil(t, e.executeStep(ctx, 1, "en-1", 1))
	require.Equal(t, 1, applied)
	require.Equal(t, []int64{1}, enrollments.en.Data.CompletedSteps)

	// The duplicate is audited as skipped and the pending step is rescheduled
	// rather than the enrollment being left without work.
	var skipped bool
	for _, entry := range logs.entries {
		if entry.Outcome == OutcomeStepSkipped && entry.StepID == 1 {
			skipped = true
		}
	}
	require.True(t, skipped)
	require.Len(t, tasks.created, 2)
	require.Equal(t, int64(2), tasks.created[1].StepID)
}
