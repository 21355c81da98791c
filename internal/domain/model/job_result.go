package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResultStatus represents the per-directory outcome of a submission task.
type ResultStatus string

const (
	// ResultStatusSubmitted indicates the submission was accepted by the directory.
	ResultStatusSubmitted ResultStatus = "submitted"
	// ResultStatusFailed indicates a terminal failure for this directory.
	ResultStatusFailed ResultStatus = "failed"
	// ResultStatusSkipped indicates the task was skipped (e.g. prior success short-circuit).
	ResultStatusSkipped ResultStatus = "skipped"
	// ResultStatusRetry indicates a transient failure awaiting another attempt.
	ResultStatusRetry ResultStatus = "retry"
	// ResultStatusNeedsHuman indicates the automation could not classify the
	// outcome; the result is queued for manual review.
	ResultStatusNeedsHuman ResultStatus = "needs_human"
)

// Valid returns true if the ResultStatus is valid.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusSubmitted, ResultStatusFailed, ResultStatusSkipped,
		ResultStatusRetry, ResultStatusNeedsHuman:
		return true
	default:
		return false
	}
}

// Terminal returns true when the result will not change again for its key.
func (s ResultStatus) Terminal() bool {
	return s == ResultStatusSubmitted || s == ResultStatusFailed ||
		s == ResultStatusSkipped || s == ResultStatusNeedsHuman
}

// JobResult is the system-of-record row for one directory submission attempt,
// keyed by a content-derived idempotency key. Two attempts with the same key
// collapse to one logical effect; first success wins.
type JobResult struct {
	ID             string          `json:"id"              db:"id"`
	JobID          string          `json:"job_id"          db:"job_id"`
	DirectoryName  string          `json:"directory_name"  db:"directory_name"`
	Status         ResultStatus    `json:"status"          db:"status"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"         db:"payload"`
	ResponseLog    json.RawMessage `json:"response_log,omitempty"  db:"response_log"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	Attempts       int             `json:"attempts"        db:"attempts"`
	ScreenshotRef  *string         `json:"screenshot_ref,omitempty" db:"screenshot_ref"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`
}

// UpsertResultRequest carries one task outcome into the result store.
type UpsertResultRequest struct {
	JobID          string
	DirectoryName  string
	Status         ResultStatus
	IdempotencyKey string
	Payload        json.RawMessage
	ResponseLog    json.RawMessage
	ErrorMessage   string
	ScreenshotRef  string
}

// Validate validates the UpsertResultRequest fields.
func (r *UpsertResultRequest) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if r.DirectoryName == "" {
		return fmt.Errorf("directory_name is required")
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid result status: %q", r.Status)
	}
	return nil
}

// IdempotencyKey derives the deterministic identifier that collapses duplicate
// executions of the same logical submission into one effect. The payload is
// canonicalized (keys sorted, whitespace-free) so byte-level JSON differences
// do not produce divergent keys.
func IdempotencyKey(jobID, directoryID string, payload json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write([]byte{0})
	h.Write([]byte(directoryID))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalJSON(payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON renders a JSON document with object keys sorted recursively
// and no insignificant whitespace. Invalid JSON is returned trimmed as-is.
func CanonicalJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		eb, _ := json.Marshal(t)
		b.Write(eb)
	}
}

// ResultView is the job_results read surface consumed by the dashboard.
type ResultView struct {
	JobID         string       `json:"job_id"`
	DirectoryName string       `json:"directory_name"`
	Status        ResultStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}
