package models

// Contact is an email recipient.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// User is the billing view of a platform user.
type User struct {
	ID                 string `json:"id"`
	TenantID           string `json:"tenant_id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	ExternalCustomerID string `json:"external_customer_id,omitempty"`
}

// Lesson is the text content of a course lesson.
type Lesson struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Position int    `json:"position"`
}

// EmbeddingSource names what an embedding was computed from.
type EmbeddingSource string

const (
	EmbeddingSourceLesson EmbeddingSource = "lesson"
	EmbeddingSourceCourse EmbeddingSource = "course"
)

// ContentEmbedding is a stored vector keyed by (source_type, source_id).
type ContentEmbedding struct {
	SourceType  EmbeddingSource `json:"source_type"`
	SourceID    string          `json:"source_id"`
	TenantID    string          `json:"tenant_id"`
	ContentHash string          `json:"content_hash"`
	Model       string          `json:"model"`
	Vector      []float32       `json:"-"`
}
