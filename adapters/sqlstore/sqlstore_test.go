package sqlstore_test

import (
	"testing"

	"github.com/andrewwormald/autoflow"
	"github.com/andrewwormald/autoflow/adapters/adaptertest"
	"github.com/andrewwormald/autoflow/adapters/sqlstore"
)

func TestRuleStore(t *testing.T) {
	adaptertest.RunRuleStoreTest(t, func() autoflow.RuleStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewRuleStore(dbc, dbc, "autoflow_rules")
	})
}

func TestJourneyStore(t *testing.T) {
	adaptertest.RunJourneyStoreTest(t, func() autoflow.JourneyStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewJourneyStore(dbc, dbc, "autoflow_journeys")
	})
}

func TestEnrollmentStore(t *testing.T) {
	adaptertest.RunEnrollmentStoreTest(t, func() autoflow.EnrollmentStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewEnrollmentStore(dbc, dbc, "autoflow_enrollments", "autoflow_outbox")
	})
}

func TestTaskStore(t *testing.T) {
	adaptertest.RunTaskStoreTest(t, func() autoflow.TaskStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewTaskStore(dbc, dbc, "autoflow_tasks")
	})
}

func TestLogStore(t *testing.T) {
	adaptertest.RunLogStoreTest(t, func() autoflow.LogStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewLogStore(dbc, dbc, "autoflow_log")
	})
}

func TestIdempotencyStore(t *testing.T) {
	adaptertest.RunIdempotencyStoreTest(t, func() autoflow.IdempotencyStore {
		dbc := ConnectForTesting(t)
		return sqlstore.NewIdempotencyStore(dbc, "autoflow_idempotency")
	})
}
