package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursejobs/internal/models"
)

type memHistory struct {
	mu       sync.Mutex
	records  map[string]*models.JobHistoryRecord
	claimErr error
}

func newMemHistory() *memHistory {
	return &memHistory{records: map[string]*models.JobHistoryRecord{}}
}

func (h *memHistory) CreateHistory(_ context.Context, id string, jobType models.JobType, data map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.records[id] = &models.JobHistoryRecord{
		ID: id, JobType: jobType, JobData: data, Status: models.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

func (h *memHistory) ClaimHistory(_ context.Context, id string, staleAfter time.Duration) (bool, models.JobStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.claimErr != nil {
		return false, "", h.claimErr
	}
	rec, ok := h.records[id]
	if !ok {
		return false, "", nil
	}
	switch {
	case rec.Status == models.StatusPending, rec.Status == models.StatusFailed,
		rec.Status == models.StatusProcessing && rec.UpdatedAt.Before(time.Now().Add(-staleAfter)):
		rec.Status = models.StatusProcessing
		rec.Attempts++
		rec.UpdatedAt = time.Now()
		return true, models.StatusProcessing, nil
	}
	return false, rec.Status, nil
}

func (h *memHistory) finish(id string, status models.JobStatus, msg *string, d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return fmt.Errorf("history %s missing", id)
	}
	ms := d.Milliseconds()
	rec.Status = status
	rec.DurationMs = &ms
	rec.ErrorMessage = msg
	rec.UpdatedAt = time.Now()
	return nil
}

func (h *memHistory) CompleteHistory(_ context.Context, id string, d time.Duration) error {
	return h.finish(id, models.StatusCompleted, nil, d)
}

func (h *memHistory) RetryHistory(_ context.Context, id, msg string, d time.Duration) error {
	return h.finish(id, models.StatusPending, &msg, d)
}

func (h *memHistory) FailHistory(_ context.Context, id, msg string, d time.Duration) error {
	return h.finish(id, models.StatusFailed, &msg, d)
}

func (h *memHistory) get(id string) models.JobHistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		return *rec
	}
	return models.JobHistoryRecord{}
}

type dispatchFunc func(ctx context.Context, job models.Job, historyID string) (models.SideEffectSummary, error)

func (f dispatchFunc) Dispatch(ctx context.Context, job models.Job, historyID string) (models.SideEffectSummary, error) {
	return f(ctx, job, historyID)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeDirectory struct {
	users   map[string]models.Contact
	tenants map[string]models.Contact
}

func (d fakeDirectory) UserContact(_ context.Context, id string) (models.Contact, error) {
	c, ok := d.users[id]
	if !ok {
		return models.Contact{}, fmt.Errorf("user %s not found", id)
	}
	return c, nil
}

func (d fakeDirectory) TenantOwnerContact(_ context.Context, id string) (models.Contact, error) {
	c, ok := d.tenants[id]
	if !ok {
		return models.Contact{}, fmt.Errorf("tenant %s not found", id)
	}
	return c, nil
}

type fakeProvider struct {
	created map[string]CustomerParams // by idempotency key
	updated map[string]CustomerParams
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{created: map[string]CustomerParams{}, updated: map[string]CustomerParams{}}
}

func (p *fakeProvider) CreateCustomer(_ context.Context, params CustomerParams, key string) (string, error) {
	p.created[key] = params
	return "cus_" + key, nil
}

func (p *fakeProvider) UpdateCustomer(_ context.Context, id string, params CustomerParams) error {
	p.updated[id] = params
	return nil
}

type fakeUsers struct {
	users map[string]models.User
}

func (u *fakeUsers) GetUser(_ context.Context, id string) (models.User, error) {
	user, ok := u.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", id)
	}
	return user, nil
}

func (u *fakeUsers) SetUserCustomerID(_ context.Context, id, customerID string) (bool, error) {
	user := u.users[id]
	if user.ExternalCustomerID != "" {
		return false, nil
	}
	user.ExternalCustomerID = customerID
	u.users[id] = user
	return true, nil
}

type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (e *fakeEmbedder) Model() string { return "test-embedding" }

type fakeContent struct {
	lessons    map[string]models.Lesson
	embeddings map[string]models.ContentEmbedding
}

func newFakeContent() *fakeContent {
	return &fakeContent{lessons: map[string]models.Lesson{}, embeddings: map[string]models.ContentEmbedding{}}
}

func (c *fakeContent) GetLesson(_ context.Context, id string) (models.Lesson, error) {
	l, ok := c.lessons[id]
	if !ok {
		return models.Lesson{}, fmt.Errorf("lesson %s not found", id)
	}
	return l, nil
}

func (c *fakeContent) CourseLessons(_ context.Context, courseID string) ([]models.Lesson, error) {
	var out []models.Lesson
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		if l, ok := c.lessons[id]; ok && l.CourseID == courseID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeContent) EmbeddingHash(_ context.Context, source models.EmbeddingSource, id string) (string, bool, error) {
	e, ok := c.embeddings[string(source)+"/"+id]
	return e.ContentHash, ok, nil
}

func (c *fakeContent) UpsertEmbedding(_ context.Context, e models.ContentEmbedding) error {
	c.embeddings[string(e.SourceType)+"/"+e.SourceID] = e
	return nil
}

type fakeMedia struct {
	art models.MediaArtifact
	err error
}

func (m fakeMedia) GenerateNow(context.Context, string) (models.MediaArtifact, error) {
	return m.art, m.err
}

func (m fakeMedia) TranslateNow(context.Context, string, string) (models.MediaArtifact, error) {
	return m.art, m.err
}
