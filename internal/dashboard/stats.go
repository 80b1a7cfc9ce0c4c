package dashboard

import (
	"context"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// statusOrder fixes the stable iteration order used by both the stats JSON
// and the bar chart.
var statusOrder = []workflow.Status{
	workflow.StatusQueued,
	workflow.StatusProcessing,
	workflow.StatusCompleted,
	workflow.StatusFailed,
	workflow.StatusRetrying,
}

// stats is the dashboard's GET /stats response: per-status counts (spec §6),
// plus avgDurationMs per terminal bucket (SPEC_FULL's supplemented
// aggregate — derived from updatedAt - createdAt on completed/failed
// records, since neither spec.md nor the schema track duration directly).
type stats struct {
	Queued        int            `json:"queued"`
	Processing    int            `json:"processing"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Retrying      int            `json:"retrying"`
	Total         int            `json:"total"`
	AvgDurationMs map[string]int `json:"avgDurationMs"`
}

func (s *Server) computeStats(ctx context.Context) (*stats, error) {
	counts := make(map[workflow.Status]int, len(statusOrder))
	for _, status := range statusOrder {
		n, err := s.doc.CountByFilter(ctx, docstore.CollectionExecutions, docstore.Filter{"status": string(status)})
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}

	out := &stats{
		Queued:        counts[workflow.StatusQueued],
		Processing:    counts[workflow.StatusProcessing],
		Completed:     counts[workflow.StatusCompleted],
		Failed:        counts[workflow.StatusFailed],
		Retrying:      counts[workflow.StatusRetrying],
		AvgDurationMs: map[string]int{},
	}
	for _, n := range counts {
		out.Total += n
	}

	for _, status := range []workflow.Status{workflow.StatusCompleted, workflow.StatusFailed} {
		avg, err := s.avgDurationMs(ctx, status)
		if err != nil {
			return nil, err
		}
		out.AvgDurationMs[string(status)] = avg
	}

	return out, nil
}

func (s *Server) avgDurationMs(ctx context.Context, status workflow.Status) (int, error) {
	docs, err := s.doc.FindByFilterSortLimit(ctx, docstore.CollectionExecutions,
		docstore.Filter{"status": string(status)}, docstore.Sort{Field: "createdAt"}, 0)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var total int64
	var n int
	for _, d := range docs {
		created, ok1 := toInt64(d["createdAt"])
		updated, ok2 := toInt64(d["updatedAt"])
		if !ok1 || !ok2 || updated < created {
			continue
		}
		total += updated - created
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return int(total / int64(n)), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
