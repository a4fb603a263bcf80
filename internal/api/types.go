package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Flow describes one task in a transport-friendly format.
type Flow struct {
	TaskID        string            `json:"taskId"`
	Status        string            `json:"status"`
	CurrentStage  string            `json:"currentStage,omitempty"`
	CurrentStep   string            `json:"currentStep"`
	Progress      int               `json:"progress"`
	StageProgress int               `json:"stageProgress"`
	Attempt       int               `json:"attempt,omitempty"`
	Error         string            `json:"error,omitempty"`
	Files         map[string]string `json:"files,omitempty"`
	Live          bool              `json:"live"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
	FinishedAt    string            `json:"finishedAt,omitempty"`
}

// CreateFlowRequest is the body of POST /api/flows.
type CreateFlowRequest struct {
	URL            string `json:"url"`
	Priority       string `json:"priority,omitempty"`
	Language       string `json:"language,omitempty"`
	SummaryStyle   string `json:"summaryStyle,omitempty"`
	SkipSeparation bool   `json:"skipSeparation,omitempty"`
}

// CreateFlowResponse acknowledges an admitted flow.
type CreateFlowResponse struct {
	TaskID                   string  `json:"taskId"`
	EstimatedDurationSeconds float64 `json:"estimatedDurationSeconds"`
	EventsURL                string  `json:"eventsUrl"`
}

// FlowListResponse wraps a collection of flows.
type FlowListResponse struct {
	Items []Flow `json:"items"`
}

// FlowResponse wraps a single flow.
type FlowResponse struct {
	Item Flow `json:"item"`
}

// Event is one coordinator notification.
type Event struct {
	Sequence  uint64          `json:"seq"`
	TaskID    string          `json:"taskId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"ts"`
	Terminal  bool            `json:"terminal,omitempty"`
}

// WorkflowStatus summarizes coordinator state.
type WorkflowStatus struct {
	Running            bool           `json:"running"`
	LastError          string         `json:"lastError,omitempty"`
	ActiveFlows        int            `json:"activeFlows"`
	TrackedFlows       int            `json:"trackedFlows"`
	MaxConcurrentFlows int            `json:"maxConcurrentFlows"`
	Workers            int            `json:"workers"`
	Busy               int            `json:"busy"`
	QueueStats         map[string]int `json:"queueStats"`
	StageHealth        []StageHealth  `json:"stageHealth"`
	StagesReady        bool           `json:"stagesReady"`
	Flows              []Flow         `json:"flows"`
}

// StageHealth mirrors readiness reporting for stage processors.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// RecoveryStatus reports what startup recovery did.
type RecoveryStatus struct {
	Reclaimed int64 `json:"reclaimed"`
	Tracked   int   `json:"tracked"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    string         `json:"startedAt,omitempty"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	TasksDir     string         `json:"tasksDir"`
	Recovery     RecoveryStatus `json:"recovery"`
	Workflow     WorkflowStatus `json:"workflow"`
	Database     DatabaseStatus `json:"database"`
}

// DatabaseStatus summarizes queue database diagnostics.
type DatabaseStatus struct {
	SchemaVersion int    `json:"schemaVersion"`
	IntegrityOK   bool   `json:"integrityOk"`
	TotalJobs     int    `json:"totalJobs"`
	Error         string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
