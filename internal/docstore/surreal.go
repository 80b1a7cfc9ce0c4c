package docstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/caelum-labs/worchflow/internal/logging"
)

// Surreal implements Store on top of SurrealDB. Every operation is a single
// parameterized SurrealQL statement; there is no claim or locking step.
type Surreal struct {
	db     *surrealdb.DB
	logger *logging.Logger
}

// Config names the connection parameters for a Surreal store.
type Config struct {
	Endpoint  string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// NewSurreal connects, signs in, selects namespace/database, and defines the
// collections used by the workflow engine as schemaless tables (SurrealDB
// errors on querying a table that has never been defined).
func NewSurreal(ctx context.Context, cfg Config, logger *logging.Logger) (*Surreal, error) {
	db, err := surrealdb.New(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to surrealdb: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		return nil, fmt.Errorf("surrealdb sign in: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("surrealdb select namespace/database: %w", err)
	}

	for _, table := range []string{CollectionExecutions, CollectionSteps, CollectionCronExecutions} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("define table %s: %w", table, err)
		}
	}

	return &Surreal{db: db, logger: logger}, nil
}

func recordID(collection, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(collection, id)
}

func (s *Surreal) Insert(ctx context.Context, collection string, doc map[string]any) error {
	id, _ := doc[idField(collection)].(string)
	if id == "" {
		return fmt.Errorf("docstore: insert into %s missing %q field", collection, idField(collection))
	}

	sql := "UPSERT $rid CONTENT $doc"
	vars := map[string]any{
		"rid": recordID(collection, id),
		"doc": doc,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *Surreal) FindOneByID(ctx context.Context, collection, id string) (map[string]any, error) {
	results, err := surrealdb.Query[[]map[string]any](ctx, s.db, "SELECT * FROM $rid", map[string]any{
		"rid": recordID(collection, id),
	})
	if err != nil {
		return nil, fmt.Errorf("find one by id in %s: %w", collection, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0], nil
}

func (s *Surreal) FindByFilterSortLimit(ctx context.Context, collection string, filter Filter, sortBy Sort, limit int) ([]map[string]any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", collection)

	vars := map[string]any{}
	if len(filter) > 0 {
		var clauses []string
		i := 0
		for field, value := range filter {
			param := fmt.Sprintf("f%d", i)
			clauses = append(clauses, fmt.Sprintf("%s = $%s", field, param))
			vars[param] = value
			i++
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}

	if sortBy.Field != "" {
		dir := "ASC"
		if sortBy.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", sortBy.Field, dir)
	}

	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	results, err := surrealdb.Query[[]map[string]any](ctx, s.db, b.String(), vars)
	if err != nil {
		return nil, fmt.Errorf("find by filter in %s: %w", collection, err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (s *Surreal) CountByFilter(ctx context.Context, collection string, filter Filter) (int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT count() AS cnt FROM %s", collection)

	vars := map[string]any{}
	if len(filter) > 0 {
		var clauses []string
		i := 0
		for field, value := range filter {
			param := fmt.Sprintf("f%d", i)
			clauses = append(clauses, fmt.Sprintf("%s = $%s", field, param))
			vars[param] = value
			i++
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" GROUP ALL")

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, b.String(), vars)
	if err != nil {
		return 0, fmt.Errorf("count by filter in %s: %w", collection, err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *Surreal) UpdateOneByID(ctx context.Context, collection, id string, update Update) error {
	if len(update.Set) == 0 && len(update.Unset) == 0 {
		return nil
	}

	var assignments []string
	vars := map[string]any{"rid": recordID(collection, id)}

	i := 0
	for field, value := range update.Set {
		param := fmt.Sprintf("s%d", i)
		assignments = append(assignments, fmt.Sprintf("%s = $%s", field, param))
		vars[param] = value
		i++
	}
	for _, field := range update.Unset {
		assignments = append(assignments, field+" = NONE")
	}

	sql := "UPDATE $rid SET " + strings.Join(assignments, ", ")
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Surreal) UpsertByFunctionID(ctx context.Context, functionID string, doc map[string]any) error {
	merged := cloneDoc(doc)
	merged["functionId"] = functionID

	sql := "UPSERT $rid MERGE $doc"
	vars := map[string]any{
		"rid": recordID(CollectionCronExecutions, functionID),
		"doc": merged,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("upsert cron_executions/%s: %w", functionID, err)
	}
	return nil
}

func (s *Surreal) Ping(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, s.db, "RETURN 1", nil)
	if err != nil {
		return fmt.Errorf("surrealdb ping: %w", err)
	}
	return nil
}

func (s *Surreal) Close(ctx context.Context) error {
	s.db.Close(ctx)
	return nil
}

var _ Store = (*Surreal)(nil)
