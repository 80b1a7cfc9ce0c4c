package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Status is an Execution's lifecycle state (spec §3).
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Execution is one record per submitted event (spec §3).
type Execution struct {
	ID           string
	EventName    string
	EventData    json.RawMessage
	Status       Status
	AttemptCount int
	Result       any
	Error        string
	ErrorStack   string
	CreatedAt    int64
	UpdatedAt    int64
}

// Step is one record per (execution, step-title) pair that has completed
// successfully (spec §3).
type Step struct {
	ExecutionID string
	StepID      string
	Name        string
	Result      any
	Timestamp   int64
}

// ToKVFields renders the execution as the hash fields stored at
// {prefix}:execution:{id} — every value stringified, per the KV store's
// string-only hash fields (spec §3's "dual representation").
func (e *Execution) ToKVFields() (map[string]string, error) {
	resultJSON := ""
	if e.Status == StatusCompleted {
		b, err := json.Marshal(e.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal execution result: %w", err)
		}
		resultJSON = string(b)
	}

	return map[string]string{
		"id":           e.ID,
		"eventName":    e.EventName,
		"eventData":    string(e.EventData),
		"status":       string(e.Status),
		"attemptCount": strconv.Itoa(e.AttemptCount),
		"result":       resultJSON,
		"error":        e.Error,
		"errorStack":   e.ErrorStack,
		"createdAt":    strconv.FormatInt(e.CreatedAt, 10),
		"updatedAt":    strconv.FormatInt(e.UpdatedAt, 10),
	}, nil
}

// ExecutionFromKVFields reconstructs an Execution from KV hash fields.
// Missing eventName, eventData, or createdAt is a MalformedRecord error
// (spec §4.6 step 1).
func ExecutionFromKVFields(fields map[string]string) (*Execution, error) {
	eventName, hasEventName := fields["eventName"]
	eventData, hasEventData := fields["eventData"]
	createdAtStr, hasCreatedAt := fields["createdAt"]
	if !hasEventName || eventName == "" || !hasEventData || !hasCreatedAt || createdAtStr == "" {
		return nil, newError(KindMalformedRecord, "execution record missing eventName, eventData, or createdAt", nil)
	}

	createdAt, err := strconv.ParseInt(createdAtStr, 10, 64)
	if err != nil {
		return nil, newError(KindMalformedRecord, "execution createdAt is not a valid timestamp", err)
	}

	attemptCount, _ := strconv.Atoi(fields["attemptCount"])
	updatedAt, _ := strconv.ParseInt(fields["updatedAt"], 10, 64)

	e := &Execution{
		ID:           fields["id"],
		EventName:    eventName,
		EventData:    json.RawMessage(eventData),
		Status:       Status(fields["status"]),
		AttemptCount: attemptCount,
		Error:        fields["error"],
		ErrorStack:   fields["errorStack"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if e.Status == StatusCompleted {
		if raw := fields["result"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &e.Result); err != nil {
				return nil, newError(KindMalformedRecord, "execution result is not valid JSON", err)
			}
		}
	}

	return e, nil
}

// ToDocFields renders the execution as a document for the `executions`
// collection.
func (e *Execution) ToDocFields() map[string]any {
	doc := map[string]any{
		"id":           e.ID,
		"eventName":    e.EventName,
		"eventData":    string(e.EventData),
		"status":       string(e.Status),
		"attemptCount": e.AttemptCount,
		"createdAt":    e.CreatedAt,
		"updatedAt":    e.UpdatedAt,
	}
	if e.Status == StatusCompleted {
		doc["result"] = e.Result
	}
	if e.Error != "" {
		doc["error"] = e.Error
	}
	if e.ErrorStack != "" {
		doc["errorStack"] = e.ErrorStack
	}
	return doc
}

// ExecutionFromDocFields reconstructs an Execution from a document-store
// record. Numeric fields may arrive as int64, float64, or json.Number
// depending on the underlying driver's JSON decoding, so each is coerced
// defensively.
func ExecutionFromDocFields(doc map[string]any) (*Execution, error) {
	eventName, _ := doc["eventName"].(string)
	if eventName == "" {
		return nil, newError(KindMalformedRecord, "execution document missing eventName", nil)
	}

	eventDataStr, _ := doc["eventData"].(string)

	createdAt, ok := toInt64(doc["createdAt"])
	if !ok {
		return nil, newError(KindMalformedRecord, "execution document missing createdAt", nil)
	}
	updatedAt, _ := toInt64(doc["updatedAt"])
	attemptCount, _ := toInt64(doc["attemptCount"])

	id, _ := doc["id"].(string)
	errStr, _ := doc["error"].(string)
	errStack, _ := doc["errorStack"].(string)

	return &Execution{
		ID:           id,
		EventName:    eventName,
		EventData:    json.RawMessage(eventDataStr),
		Status:       Status(fmt.Sprint(doc["status"])),
		AttemptCount: int(attemptCount),
		Result:       doc["result"],
		Error:        errStr,
		ErrorStack:   errStack,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// stepDoc renders a Step as a document for the `steps` collection.
func (s *Step) stepDoc() map[string]any {
	return map[string]any{
		"id":          s.ExecutionID + ":" + s.StepID,
		"executionId": s.ExecutionID,
		"stepId":      s.StepID,
		"name":        s.Name,
		"status":      string(StatusCompleted),
		"result":      s.Result,
		"timestamp":   s.Timestamp,
	}
}
