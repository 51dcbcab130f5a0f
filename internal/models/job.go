package models

import (
	"time"
)

// JobType is the closed set of background job kinds the platform runs.
type JobType string

const (
	JobSendWelcomeEmail             JobType = "send-welcome-email"
	JobSendEnrollmentConfirmation   JobType = "send-enrollment-confirmation"
	JobSendPaymentFailedEmail       JobType = "send-payment-failed-email"
	JobSendSubscriptionCanceledMail JobType = "send-subscription-canceled-email"
	JobCreatePaymentCustomer        JobType = "create-payment-customer"
	JobUpdatePaymentCustomer        JobType = "update-payment-customer"
	JobGenerateLessonEmbeddings     JobType = "generate-lesson-embeddings"
	JobGenerateCourseEmbeddings     JobType = "generate-course-embeddings"
	JobTranscribeMedia              JobType = "transcribe-media"
	JobTranslateSubtitles           JobType = "translate-subtitles"
)

// JobTypes lists every declared job type.
func JobTypes() []JobType {
	return []JobType{
		JobSendWelcomeEmail,
		JobSendEnrollmentConfirmation,
		JobSendPaymentFailedEmail,
		JobSendSubscriptionCanceledMail,
		JobCreatePaymentCustomer,
		JobUpdatePaymentCustomer,
		JobGenerateLessonEmbeddings,
		JobGenerateCourseEmbeddings,
		JobTranscribeMedia,
		JobTranslateSubtitles,
	}
}

// PayloadHistoryID is the payload key carrying the job history record id.
const PayloadHistoryID = "historyId"

// JobStatus enumerates lifecycle states of a job history record.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is a unit of deferred work. It is immutable once enqueued.
type Job struct {
	Type    JobType        `json:"type"`
	Payload map[string]any `json:"payload"`
}

// JobHistoryRecord is the durable record of one enqueued job.
type JobHistoryRecord struct {
	ID           string         `json:"id"`
	JobType      JobType        `json:"job_type"`
	JobData      map[string]any `json:"job_data"`
	Status       JobStatus      `json:"status"`
	Attempts     int            `json:"attempts"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SideEffectSummary describes what a handler did, for logs and the admin surface.
type SideEffectSummary map[string]any

// StatusCounts aggregates history records by status.
type StatusCounts map[JobStatus]int64
