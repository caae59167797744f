package domain

import (
	"encoding"
	"time"
)

// Kind selects the processing pipeline a task runs through.
type Kind string

const (
	KindAnalysisReport Kind = "ANALYSIS_REPORT"
	KindExport         Kind = "EXPORT"
)

// Kinds lists every kind a worker knows how to process.
func Kinds() []Kind {
	return []Kind{KindAnalysisReport, KindExport}
}

func (k Kind) Valid() bool {
	switch k {
	case KindAnalysisReport, KindExport:
		return true
	default:
		return false
	}
}

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusSuccess    TaskStatus = "SUCCESS"
	StatusFailed     TaskStatus = "FAILED"
)

func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Well-known characteristic keys.
const (
	CharacteristicBranch      = "branch"
	CharacteristicName        = "name"
	CharacteristicPullRequest = "pullRequest"
)

type Characteristic struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Characteristics is an ordered list of key/value pairs attached to a task at submission.
type Characteristics []Characteristic

// Get returns the value of the first pair with the given key.
func (c Characteristics) Get(key string) (string, bool) {
	for _, kv := range c {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Task is the descriptor placed on the queue. It is never rewritten after enqueue;
// runtime bookkeeping lives in TaskState.
type Task struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	SubjectID       string          `json:"subjectId"`
	SubmitterID     string          `json:"submitterId,omitempty"`
	Characteristics Characteristics `json:"characteristics,omitempty"`
	// TraceParent/TraceState carry the W3C trace context of the submission so the
	// worker span joins the same trace.
	TraceParent string    `json:"traceParent,omitempty"`
	TraceState  string    `json:"traceState,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Characteristic is a shorthand for t.Characteristics.Get.
func (t *Task) Characteristic(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	return t.Characteristics.Get(key)
}

type StepTiming struct {
	Step          string `json:"step"`
	ElapsedMillis int64  `json:"elapsedMs"`
}

// TaskState is the mutable lifecycle record of a task.
type TaskState struct {
	TaskID     string       `json:"taskId"`
	Kind       Kind         `json:"kind"`
	Status     TaskStatus   `json:"status"`
	WorkerID   string       `json:"workerId,omitempty"`
	FailedStep string       `json:"failedStep,omitempty"`
	Error      string       `json:"error,omitempty"`
	Steps      []StepTiming `json:"steps,omitempty"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

var (
	_ encoding.BinaryMarshaler = Kind("")
	_ encoding.TextMarshaler   = Kind("")
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (k Kind) MarshalBinary() ([]byte, error) { return []byte(string(k)), nil }
func (k Kind) MarshalText() ([]byte, error)   { return []byte(string(k)), nil }

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
