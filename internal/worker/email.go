package worker

import (
	"context"
	"fmt"

	"coursejobs/internal/models"
)

// Message is a rendered transactional email. ID is stable across retries of
// the same job so the transport can deduplicate.
type Message struct {
	ID       string
	To       models.Contact
	Subject  string
	Template string
	Data     map[string]string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Directory resolves email recipients.
type Directory interface {
	UserContact(ctx context.Context, userID string) (models.Contact, error)
	TenantOwnerContact(ctx context.Context, tenantID string) (models.Contact, error)
}

type tenantNotice struct {
	template string
	subject  string
}

var (
	paymentFailedNotice        = tenantNotice{template: "payment-failed", subject: "Your subscription payment failed"}
	subscriptionCanceledNotice = tenantNotice{template: "subscription-canceled", subject: "Your subscription was canceled"}
)

func (h *Handlers) send(ctx context.Context, msg Message) (models.SideEffectSummary, error) {
	if msg.To.Email == "" {
		return nil, fmt.Errorf("%w: recipient has no email", ErrInvalidPayload)
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send %s email: %w", msg.Template, err)
	}
	return models.SideEffectSummary{"email_sent": msg.Template, "to": msg.To.Email}, nil
}

func (h *Handlers) sendWelcomeEmail(ctx context.Context, payload map[string]any, historyID string) (models.SideEffectSummary, error) {
	userID, err := requireString(payload, "userId")
	if err != nil {
		return nil, err
	}
	to, err := h.directory.UserContact(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	return h.send(ctx, Message{
		ID:       historyID,
		To:       to,
		Subject:  "Welcome aboard",
		Template: "welcome",
		Data:     map[string]string{"name": to.Name, "tenantId": optionalString(payload, "tenantId")},
	})
}

func (h *Handlers) sendEnrollmentConfirmation(ctx context.Context, payload map[string]any, historyID string) (models.SideEffectSummary, error) {
	userID, err := requireString(payload, "userId")
	if err != nil {
		return nil, err
	}
	courseID, err := requireString(payload, "courseId")
	if err != nil {
		return nil, err
	}
	to, err := h.directory.UserContact(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	return h.send(ctx, Message{
		ID:       historyID,
		To:       to,
		Subject:  "You're enrolled",
		Template: "enrollment-confirmation",
		Data: map[string]string{
			"name":         to.Name,
			"courseId":     courseID,
			"enrollmentId": optionalString(payload, "enrollmentId"),
			"tenantId":     optionalString(payload, "tenantId"),
		},
	})
}

func (h *Handlers) sendTenantNotice(ctx context.Context, payload map[string]any, historyID string, notice tenantNotice) (models.SideEffectSummary, error) {
	tenantID, err := requireString(payload, "tenantId")
	if err != nil {
		return nil, err
	}
	to, err := h.directory.TenantOwnerContact(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant owner %s: %w", tenantID, err)
	}
	return h.send(ctx, Message{
		ID:       historyID,
		To:       to,
		Subject:  notice.subject,
		Template: notice.template,
		Data:     map[string]string{"name": to.Name, "tenantId": tenantID},
	})
}
