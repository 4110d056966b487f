package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSettlementReconcile JobType = "settlement_reconcile"
	JobTypePlanRollover        JobType = "plan_rollover"
	JobTypeStatementExport     JobType = "statement_export"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// SettlementReconcileJobPayload targets a single order for re-settlement
type SettlementReconcileJobPayload struct {
	CheckoutID string `json:"checkout_id"`
}

// ToMap converts the payload to a map for storage
func (p SettlementReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"checkout_id": p.CheckoutID,
	}
}

// FromMap creates a payload from a map
func SettlementReconcileJobPayloadFromMap(data map[string]interface{}) (*SettlementReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SettlementReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PlanRolloverJobPayload targets a single subscription whose credit period is due
type PlanRolloverJobPayload struct {
	SubscriptionID uint `json:"subscription_id"`
	UserID         uint `json:"user_id"`
}

// ToMap converts the payload to a map for storage
func (p PlanRolloverJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": p.SubscriptionID,
		"user_id":         p.UserID,
	}
}

// FromMap creates a payload from a map
func PlanRolloverJobPayloadFromMap(data map[string]interface{}) (*PlanRolloverJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PlanRolloverJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// StatementExportJobPayload describes a monthly credit statement export
type StatementExportJobPayload struct {
	UserID uint `json:"user_id"`
	Year   int  `json:"year"`
	Month  int  `json:"month"`
}

// ToMap converts the payload to a map for storage
func (p StatementExportJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"year":    p.Year,
		"month":   p.Month,
	}
}

// FromMap creates a payload from a map
func StatementExportJobPayloadFromMap(data map[string]interface{}) (*StatementExportJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload StatementExportJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
