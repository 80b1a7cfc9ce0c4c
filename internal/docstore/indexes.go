package docstore

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// index names the DEFINE INDEX statement for one of the seven indexes
// required by §4.2. SurrealDB's DEFINE INDEX IF NOT EXISTS makes this
// idempotent: re-running it against an index with the same definition is a
// no-op, not an error.
type index struct {
	name      string
	statement string
}

func requiredIndexes() []index {
	return []index{
		{
			name:      "executions_id_unique",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS executions_id_unique ON TABLE %s COLUMNS id UNIQUE", CollectionExecutions),
		},
		{
			name:      "executions_status_createdAt",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS executions_status_createdAt ON TABLE %s COLUMNS status, createdAt", CollectionExecutions),
		},
		{
			name:      "executions_createdAt",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS executions_createdAt ON TABLE %s COLUMNS createdAt", CollectionExecutions),
		},
		{
			name:      "executions_eventName_createdAt",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS executions_eventName_createdAt ON TABLE %s COLUMNS eventName, createdAt", CollectionExecutions),
		},
		{
			name:      "steps_executionId_timestamp",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS steps_executionId_timestamp ON TABLE %s COLUMNS executionId, timestamp", CollectionSteps),
		},
		{
			name:      "steps_executionId_stepId_unique",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS steps_executionId_stepId_unique ON TABLE %s COLUMNS executionId, stepId UNIQUE", CollectionSteps),
		},
		{
			name:      "cron_executions_functionId_unique",
			statement: fmt.Sprintf("DEFINE INDEX IF NOT EXISTS cron_executions_functionId_unique ON TABLE %s COLUMNS functionId UNIQUE", CollectionCronExecutions),
		},
	}
}

// EnsureIndexes creates the seven indexes required by §4.2. It is safe to
// call on every startup.
func (s *Surreal) EnsureIndexes(ctx context.Context) error {
	for _, idx := range requiredIndexes() {
		if _, err := surrealdb.Query[any](ctx, s.db, idx.statement, nil); err != nil {
			return fmt.Errorf("ensure index %s: %w", idx.name, err)
		}
		s.logger.Debug().Str("index", idx.name).Msg("index ensured")
	}
	return nil
}
