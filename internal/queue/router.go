package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"coursejobs/internal/models"
)

// ErrUnroutable is returned for a job type no queue claims.
var ErrUnroutable = errors.New("job type is not routed to any queue")

// classification assigns every job type to exactly one family.
var classification = map[Name][]models.JobType{
	Email: {
		models.JobSendWelcomeEmail,
		models.JobSendEnrollmentConfirmation,
		models.JobSendPaymentFailedEmail,
		models.JobSendSubscriptionCanceledMail,
	},
	PaymentProvider: {
		models.JobCreatePaymentCustomer,
		models.JobUpdatePaymentCustomer,
	},
	Embeddings: {
		models.JobGenerateLessonEmbeddings,
		models.JobGenerateCourseEmbeddings,
	},
	MediaAnalysis: {
		models.JobTranscribeMedia,
		models.JobTranslateSubtitles,
	},
}

var routes = buildRoutes(classification)

func buildRoutes(table map[Name][]models.JobType) map[models.JobType]Name {
	out := make(map[models.JobType]Name)
	for name, types := range table {
		for _, t := range types {
			out[t] = name
		}
	}
	return out
}

// Route returns the queue a job type belongs to.
func Route(t models.JobType) (Name, error) {
	name, ok := routes[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnroutable, t)
	}
	return name, nil
}

// ValidateRouting checks the classification table at startup: every declared
// job type belongs to exactly one queue, and every queue has a descriptor.
func ValidateRouting() error {
	return validateRouting(classification, models.JobTypes(), descriptors)
}

func validateRouting(table map[Name][]models.JobType, declared []models.JobType, descs []Descriptor) error {
	known := make(map[Name]bool, len(descs))
	for _, d := range descs {
		known[d.Name] = true
	}
	declaredSet := make(map[models.JobType]bool, len(declared))
	for _, t := range declared {
		declaredSet[t] = true
	}

	owners := make(map[models.JobType][]string)
	var problems []string
	for name, types := range table {
		if !known[name] {
			problems = append(problems, fmt.Sprintf("queue %q has no descriptor", name))
		}
		for _, t := range types {
			if !declaredSet[t] {
				problems = append(problems, fmt.Sprintf("queue %q lists undeclared job type %q", name, t))
			}
			owners[t] = append(owners[t], string(name))
		}
	}
	for _, t := range declared {
		switch n := len(owners[t]); {
		case n == 0:
			problems = append(problems, fmt.Sprintf("job type %q is not routed", t))
		case n > 1:
			sort.Strings(owners[t])
			problems = append(problems, fmt.Sprintf("job type %q routed to %d queues (%s)", t, n, strings.Join(owners[t], ", ")))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid queue routing: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Table returns the job types of each queue, sorted, for inspection tools.
func Table() map[Name][]models.JobType {
	out := make(map[Name][]models.JobType, len(classification))
	for name, types := range classification {
		cp := append([]models.JobType(nil), types...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		out[name] = cp
	}
	return out
}
