package queue

import (
	"time"
)

// Name identifies one job family queue.
type Name string

const (
	Email           Name = "email"
	PaymentProvider Name = "payment-provider"
	Embeddings      Name = "embeddings"
	MediaAnalysis   Name = "media-analysis"
)

// Descriptor is the static, per-family delivery policy.
type Descriptor struct {
	Name               Name
	Concurrency        int
	MaxAttempts        int
	Backoff            Backoff
	RetentionCompleted int64
	RetentionFailed    int64
	// Timeout bounds one handler attempt; an attempt that runs over is failed.
	Timeout time.Duration
}

// Notification jobs retry fast and keep many failures around for follow-up.
// Payment provider calls back off longer. Media jobs are expensive, so they
// run with low concurrency and few attempts.
var descriptors = []Descriptor{
	{
		Name:               Email,
		Concurrency:        5,
		MaxAttempts:        3,
		Backoff:            Backoff{Type: BackoffExponential, BaseDelay: time.Second},
		RetentionCompleted: 100,
		RetentionFailed:    1000,
		Timeout:            30 * time.Second,
	},
	{
		Name:               PaymentProvider,
		Concurrency:        3,
		MaxAttempts:        5,
		Backoff:            Backoff{Type: BackoffExponential, BaseDelay: 5 * time.Second},
		RetentionCompleted: 100,
		RetentionFailed:    500,
		Timeout:            time.Minute,
	},
	{
		Name:               Embeddings,
		Concurrency:        3,
		MaxAttempts:        3,
		Backoff:            Backoff{Type: BackoffExponential, BaseDelay: 2 * time.Second},
		RetentionCompleted: 100,
		RetentionFailed:    200,
		Timeout:            5 * time.Minute,
	},
	{
		Name:               MediaAnalysis,
		Concurrency:        2,
		MaxAttempts:        2,
		Backoff:            Backoff{Type: BackoffFixed, BaseDelay: 30 * time.Second},
		RetentionCompleted: 50,
		RetentionFailed:    200,
		Timeout:            30 * time.Minute,
	},
}

// Descriptors returns a copy of every queue descriptor in declaration order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for a queue name.
func Lookup(name Name) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
