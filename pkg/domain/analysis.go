package domain

import "time"

// ReportMetadata is the metadata.json entry of an uploaded analysis report.
type ReportMetadata struct {
	ProjectKey     string    `json:"projectKey"`
	Branch         string    `json:"branch,omitempty"`
	AnalysisDate   time.Time `json:"analysisDate"`
	ScannerVersion string    `json:"scannerVersion,omitempty"`
}

type Measure struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
	SeverityBlocker  Severity = "BLOCKER"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker:
		return true
	default:
		return false
	}
}

type Issue struct {
	Key       string   `json:"key,omitempty"`
	Rule      string   `json:"rule"`
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Line      int      `json:"line,omitempty"`
	Message   string   `json:"message"`
}

type QualityGateStatus string

const (
	QualityGateOK    QualityGateStatus = "OK"
	QualityGateError QualityGateStatus = "ERROR"
)

// Analysis is one processed report, as persisted for a subject.
type Analysis struct {
	ID               string            `json:"id"`
	TaskID           string            `json:"taskId"`
	SubjectID        string            `json:"subjectId"`
	Date             time.Time         `json:"date"`
	ScannerVersion   string            `json:"scannerVersion,omitempty"`
	QualityGate      QualityGateStatus `json:"qualityGate"`
	FailedConditions []string          `json:"failedConditions,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// Event records a notable change between two analyses of a subject.
type Event struct {
	AnalysisID string    `json:"analysisId"`
	Category   string    `json:"category"`
	Name       string    `json:"name"`
	Date       time.Time `json:"date"`
}
