package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
)

// ComputeFunc is the work a step performs when it is not already memoized.
type ComputeFunc func(ctx context.Context) (any, error)

// stepWrapper is the KV cache blob protocol (spec §4.5): Cached
// distinguishes an absent cache entry from one that legitimately cached a
// null value.
type stepWrapper struct {
	Cached bool `json:"cached"`
	Value  any  `json:"value"`
}

// StepRunner memoizes RunStep invocations for a single execution across a
// three-tier lookup: in-process memo, KV cache, then compute. It must never
// catch an error returned by compute — the worker pool's processExecution
// classifies handler failures.
type StepRunner struct {
	kv          kvstore.Store
	doc         docstore.Store
	prefix      string
	executionID string
	logger      *logging.Logger

	mu   sync.Mutex
	memo map[string]any
}

// NewStepRunner binds a StepRunner to one execution over a dedicated KV
// connection (spec §4.6 step 4: "a dedicated step-store connection").
func NewStepRunner(kv kvstore.Store, doc docstore.Store, queuePrefix, executionID string, logger *logging.Logger) *StepRunner {
	return &StepRunner{
		kv:          kv,
		doc:         doc,
		prefix:      queuePrefix,
		executionID: executionID,
		logger:      logger,
		memo:        make(map[string]any),
	}
}

func (r *StepRunner) stepsKey() string {
	return r.prefix + ":steps:" + r.executionID
}

// RunStep returns title's memoized value, computing it at most once per
// execution (until the process restarts and the KV cache tier takes over).
func (r *StepRunner) RunStep(ctx context.Context, title string, compute ComputeFunc) (any, error) {
	stepID := StepID(title)

	r.mu.Lock()
	if value, ok := r.memo[stepID]; ok {
		r.mu.Unlock()
		return value, nil
	}
	r.mu.Unlock()

	if value, ok, err := r.lookupCache(ctx, stepID); err != nil {
		return nil, err
	} else if ok {
		r.remember(stepID, value)
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, stepID, title, value); err != nil {
		return nil, err
	}
	r.remember(stepID, value)
	return value, nil
}

func (r *StepRunner) remember(stepID string, value any) {
	r.mu.Lock()
	r.memo[stepID] = value
	r.mu.Unlock()
}

// lookupCache checks the KV cache tier. A parse failure is treated as a
// miss and logged, never as an error — the step simply recomputes.
func (r *StepRunner) lookupCache(ctx context.Context, stepID string) (any, bool, error) {
	raw, ok, err := r.kv.HashField(ctx, r.stepsKey(), stepID)
	if err != nil {
		return nil, false, newError(KindStoreFailure, "read step cache", err)
	}
	if !ok || raw == "" {
		return nil, false, nil
	}

	var wrapper stepWrapper
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		if r.logger != nil {
			r.logger.Warn().Err(err).Str("executionId", r.executionID).Str("stepId", stepID).Msg("step cache blob failed to parse, treating as miss")
		}
		return nil, false, nil
	}
	if !wrapper.Cached {
		return nil, false, nil
	}
	return wrapper.Value, true, nil
}

// persist writes the step record to the doc store and the wrapped value to
// the KV cache in parallel.
func (r *StepRunner) persist(ctx context.Context, stepID, title string, value any) error {
	wrapper := stepWrapper{Cached: true, Value: value}
	blob, err := json.Marshal(wrapper)
	if err != nil {
		return newError(KindStoreFailure, "encode step cache blob", err)
	}

	step := &Step{
		ExecutionID: r.executionID,
		StepID:      stepID,
		Name:        title,
		Result:      value,
		Timestamp:   time.Now().UnixMilli(),
	}

	var kvErr, docErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kvErr = r.kv.HashSet(ctx, r.stepsKey(), map[string]string{stepID: string(blob)})
	}()
	go func() {
		defer wg.Done()
		docErr = r.doc.Insert(ctx, docstore.CollectionSteps, step.stepDoc())
	}()
	wg.Wait()

	if kvErr != nil {
		return newError(KindStoreFailure, "write step to kv cache", kvErr)
	}
	if docErr != nil {
		return newError(KindStoreFailure, "write step to doc store", docErr)
	}
	return nil
}
