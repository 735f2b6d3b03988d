package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
)

var migrations = []string{
	`
	create table autoflow_rules (
		id                 bigint not null auto_increment,
		tenant_id          bigint not null,
		name               varchar(255) not null,
		priority           int not null,
		active             tinyint(1) not null,
		event_type         varchar(255) not null,
		` + "`condition`" + `  blob not null,
		action             blob not null,
		meta               blob not null,
		created_at         datetime(3) not null,
		updated_at         datetime(3) not null,

		primary key (id),

		index by_tenant_event_active (tenant_id, event_type, active)
	)`,
	`
	create table autoflow_journeys (
		id                 bigint not null auto_increment,
		tenant_id          bigint not null,
		name               varchar(255) not null,
		kind               varchar(32) not null,
		active             tinyint(1) not null,
		steps              blob not null,
		created_at         datetime(3) not null,
		updated_at         datetime(3) not null,

		primary key (id),

		index by_tenant (tenant_id)
	)`,
	`
	create table autoflow_enrollments (
		id                 varchar(255) not null,
		tenant_id          bigint not null,
		journey_id         bigint not null,
		target_type        varchar(32) not null,
		target_id          varchar(255) not null,
		status             int not null,
		current_order_no   int not null,
		data               blob not null,
		remaining_delay    bigint not null,
		version            int not null,
		started_at         datetime(3) not null,
		updated_at         datetime(3) not null,
		completed_at       datetime(3),

		primary key (id),

		index by_target (tenant_id, journey_id, target_type, target_id, status)
	)`,
	`
	create table autoflow_outbox (
		id                 varchar(255) not null,
		tenant_id          bigint not null,
		data               blob,
		created_at         datetime(3) not null,

		primary key (id)
	)`,
	`
	create table autoflow_tasks (
		id                 bigint not null auto_increment,
		tenant_id          bigint not null,
		enrollment_id      varchar(255) not null,
		step_id            bigint not null,
		run_at             datetime(3) not null,
		dedupe_key         varchar(255) not null,
		attempts           int not null,
		completed          tinyint(1) not null,
		cancelled          tinyint(1) not null,
		created_at         datetime(3) not null,

		primary key (id),

		index by_due (completed, cancelled, run_at),
		index by_enrollment (tenant_id, enrollment_id),
		index by_dedupe (dedupe_key, completed, cancelled)
	)`,
	`
	create table autoflow_log (
		id                 bigint not null auto_increment,
		tenant_id          bigint not null,
		enrollment_id      varchar(255) not null,
		rule_id            bigint not null,
		step_id            bigint not null,
		outcome            varchar(64) not null,
		detail             varchar(1024) not null,
		created_at         datetime(3) not null,

		primary key (id),

		index by_tenant (tenant_id)
	)`,
	`
	create table autoflow_idempotency (
		tenant_id          bigint not null,
		token              varchar(255) not null,
		created_at         datetime(3) not null,

		primary key (tenant_id, token)
	)`,
}

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, migrations...)
}
