package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// recoverOrphans reclaims executions left in-flight by a crashed worker
// (spec §4.6's orphan recovery): any execution in {processing, retrying} is
// reset to queued and re-enqueued, exactly once per worker-pool startup. A
// concurrent start racing on the same orphan may double-enqueue; that is
// accepted because the duplicate dequeue is idempotent via step memoization.
func (p *Pool) recoverOrphans(ctx context.Context) error {
	orphans, err := p.findOrphans(ctx)
	if err != nil {
		return err
	}

	for _, id := range orphans {
		if err := p.reclaimOrphan(ctx, id); err != nil {
			if logger := p.scopedLogger(id); logger != nil {
				logger.Warn().Err(err).Msg("failed to reclaim orphaned execution")
			}
			continue
		}
	}
	return nil
}

// findOrphans returns execution ids in {processing, retrying}, sorted by
// createdAt ascending.
func (p *Pool) findOrphans(ctx context.Context) ([]string, error) {
	var ids []string
	for _, status := range []workflow.Status{workflow.StatusProcessing, workflow.StatusRetrying} {
		docs, err := p.doc.FindByFilterSortLimit(ctx, docstore.CollectionExecutions,
			docstore.Filter{"status": string(status)}, docstore.Sort{Field: "createdAt"}, 0)
		if err != nil {
			return nil, workflowErrorWrap(workflow.KindStoreFailure, "query orphaned executions", err)
		}
		for _, doc := range docs {
			if id, ok := doc["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (p *Pool) reclaimOrphan(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()

	if err := p.kv.HashSet(ctx, p.executionKey(id), map[string]string{
		"status":    string(workflow.StatusQueued),
		"updatedAt": strconv.FormatInt(now, 10),
	}); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "reclaim orphan kv update", err)
	}

	if err := p.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, docstore.Update{
		Set: map[string]any{"status": string(workflow.StatusQueued), "updatedAt": now},
	}); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "reclaim orphan doc update", err)
	}

	if err := p.kv.ListPushRight(ctx, p.queueKey(), id); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "reclaim orphan enqueue", err)
	}
	return nil
}

func (p *Pool) executionKey(id string) string {
	return p.queuePrefix + ":execution:" + id
}
