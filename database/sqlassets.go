package sqlassets

import _ "embed"

//go:embed schema/orchestrator/schema.sql
var OrchestratorSchemaSQL string

//go:embed schema/orchestrator/tenant_quotas.sql
var TenantQuotasSQL string

//go:embed schema/orchestrator/pods.sql
var PodsSQL string

//go:embed schema/orchestrator/jobs.sql
var JobsSQL string

//go:embed schema/orchestrator/tasks.sql
var TasksSQL string

//go:embed schema/orchestrator/events.sql
var EventsSQL string

// All returns the orchestrator DDL in dependency order.
func All() []string {
	return []string{
		OrchestratorSchemaSQL,
		TenantQuotasSQL,
		PodsSQL,
		JobsSQL,
		TasksSQL,
		EventsSQL,
	}
}
