package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coursejobs/internal/models"
)

var (
	ErrNoHandler      = errors.New("no handler for job type")
	ErrInvalidPayload = errors.New("invalid job payload")
	// ErrNotConfigured is returned by handlers whose provider was not wired.
	ErrNotConfigured = errors.New("provider not configured")
)

// Handlers is the closed set of job handlers. Each handler must be safe to
// run more than once for the same job.
type Handlers struct {
	mailer    Mailer
	directory Directory
	customers CustomerProvider
	users     CustomerStore
	embedder  Embedder
	content   ContentStore
	media     MediaPipeline
	log       *zap.Logger
}

// Dependencies are the collaborators the handlers call.
type Dependencies struct {
	Mailer    Mailer
	Directory Directory
	Customers CustomerProvider
	Users     CustomerStore
	Embedder  Embedder
	Content   ContentStore
	Media     MediaPipeline
}

func NewHandlers(deps Dependencies, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		mailer:    deps.Mailer,
		directory: deps.Directory,
		customers: deps.Customers,
		users:     deps.Users,
		embedder:  deps.Embedder,
		content:   deps.Content,
		media:     deps.Media,
		log:       log,
	}
}

// Dispatch runs the handler for job.Type.
func (h *Handlers) Dispatch(ctx context.Context, job models.Job, historyID string) (models.SideEffectSummary, error) {
	switch job.Type {
	case models.JobSendWelcomeEmail:
		return h.sendWelcomeEmail(ctx, job.Payload, historyID)
	case models.JobSendEnrollmentConfirmation:
		return h.sendEnrollmentConfirmation(ctx, job.Payload, historyID)
	case models.JobSendPaymentFailedEmail:
		return h.sendTenantNotice(ctx, job.Payload, historyID, paymentFailedNotice)
	case models.JobSendSubscriptionCanceledMail:
		return h.sendTenantNotice(ctx, job.Payload, historyID, subscriptionCanceledNotice)
	case models.JobCreatePaymentCustomer:
		return h.createPaymentCustomer(ctx, job.Payload)
	case models.JobUpdatePaymentCustomer:
		return h.updatePaymentCustomer(ctx, job.Payload)
	case models.JobGenerateLessonEmbeddings:
		return h.generateLessonEmbeddings(ctx, job.Payload)
	case models.JobGenerateCourseEmbeddings:
		return h.generateCourseEmbeddings(ctx, job.Payload)
	case models.JobTranscribeMedia:
		return h.transcribeMedia(ctx, job.Payload)
	case models.JobTranslateSubtitles:
		return h.translateSubtitles(ctx, job.Payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrNoHandler, job.Type)
}

func requireString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidPayload, key)
	}
	return v, nil
}

func optionalString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}
