package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"coursejobs/internal/models"
	"coursejobs/internal/telemetry"
)

var (
	// ErrConflict is returned when the artifact is Completed, or Processing
	// and recently touched.
	ErrConflict = errors.New("subtitles are already processing or completed")
	// ErrUnavailable is returned when no translation provider is configured.
	ErrUnavailable = errors.New("translation provider not configured")
	// ErrOriginalNotReady is returned when a translation is requested before
	// the original-language subtitles completed.
	ErrOriginalNotReady = errors.New("original subtitles are not completed")
	ErrNotFound         = errors.New("media not found")
	ErrInvalidLanguage  = errors.New("invalid target language")
)

// Store persists media sources and artifacts.
type Store interface {
	GetMediaSource(ctx context.Context, id string) (models.MediaSource, error)
	BeginArtifact(ctx context.Context, a models.MediaArtifact, staleAfter time.Duration) (models.MediaArtifact, error)
	CompleteArtifact(ctx context.Context, id string, result map[string]any, key string) error
	FailArtifact(ctx context.Context, id, message string) error
	GetArtifact(ctx context.Context, sourceID, language string) (models.MediaArtifact, error)
	ListArtifacts(ctx context.Context, sourceID string) ([]models.MediaArtifact, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, language string) ([]models.SubtitleSegment, error)
}

type Translator interface {
	TranslateSegments(ctx context.Context, segments []models.SubtitleSegment, from, to string) ([]models.SubtitleSegment, error)
}

// ObjectStore holds rendered subtitle files.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// Runner starts detached background work.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// DefaultStaleAfter bounds how long a Processing artifact blocks a restart
// when the caller does not choose a limit.
const DefaultStaleAfter = 35 * time.Minute

// Service runs the transcription and translation pipeline.
type Service struct {
	store       Store
	transcriber Transcriber
	translator  Translator
	objects     ObjectStore
	runner      Runner
	staleAfter  time.Duration
	log         *zap.Logger
}

// NewService wires the pipeline. A Processing artifact untouched for
// staleAfter is treated as abandoned and may be restarted; staleAfter must
// exceed the longest run of any pipeline sharing the store. A nil translator
// disables translations.
func NewService(store Store, transcriber Transcriber, translator Translator, objects ObjectStore, runner Runner, staleAfter time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Service{
		store:       store,
		transcriber: transcriber,
		translator:  translator,
		objects:     objects,
		runner:      runner,
		staleAfter:  staleAfter,
		log:         log,
	}
}

// ArtifactView is an artifact with a fetchable URL once completed.
type ArtifactView struct {
	models.MediaArtifact
	URL string `json:"url,omitempty"`
}

// Generate starts original-language transcription in the background and
// returns the Processing artifact.
func (s *Service) Generate(ctx context.Context, sourceID string) (models.MediaArtifact, error) {
	src, art, err := s.beginOriginal(ctx, sourceID)
	if err != nil {
		return models.MediaArtifact{}, err
	}
	s.runner.Go("transcribe:"+sourceID, func(ctx context.Context) error {
		return s.transcribe(ctx, src, art)
	})
	return art, nil
}

// GenerateNow runs transcription on the calling goroutine.
func (s *Service) GenerateNow(ctx context.Context, sourceID string) (models.MediaArtifact, error) {
	src, art, err := s.beginOriginal(ctx, sourceID)
	if err != nil {
		return models.MediaArtifact{}, err
	}
	if err := s.transcribe(ctx, src, art); err != nil {
		return models.MediaArtifact{}, err
	}
	return s.store.GetArtifact(ctx, sourceID, art.Language)
}

// Translate starts a translation of the completed original subtitles.
func (s *Service) Translate(ctx context.Context, sourceID, language string) (models.MediaArtifact, error) {
	src, original, art, err := s.beginTranslation(ctx, sourceID, language)
	if err != nil {
		return models.MediaArtifact{}, err
	}
	s.runner.Go("translate:"+sourceID+":"+art.Language, func(ctx context.Context) error {
		return s.translate(ctx, src, original, art)
	})
	return art, nil
}

// TranslateNow runs a translation on the calling goroutine.
func (s *Service) TranslateNow(ctx context.Context, sourceID, language string) (models.MediaArtifact, error) {
	src, original, art, err := s.beginTranslation(ctx, sourceID, language)
	if err != nil {
		return models.MediaArtifact{}, err
	}
	if err := s.translate(ctx, src, original, art); err != nil {
		return models.MediaArtifact{}, err
	}
	return s.store.GetArtifact(ctx, sourceID, art.Language)
}

// List returns a source's artifacts. Completed ones carry a URL.
func (s *Service) List(ctx context.Context, sourceID string) ([]ArtifactView, error) {
	if _, err := s.store.GetMediaSource(ctx, sourceID); err != nil {
		return nil, err
	}
	arts, err := s.store.ListArtifacts(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	out := make([]ArtifactView, 0, len(arts))
	for _, a := range arts {
		view := ArtifactView{MediaArtifact: a}
		if a.Status == models.ArtifactCompleted && a.ResultKey != nil {
			url, err := s.objects.URL(ctx, *a.ResultKey)
			if err != nil {
				s.log.Warn("subtitle url unavailable", zap.String("artifact_id", a.ID), zap.Error(err))
			} else {
				view.URL = url
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) beginOriginal(ctx context.Context, sourceID string) (models.MediaSource, models.MediaArtifact, error) {
	src, err := s.store.GetMediaSource(ctx, sourceID)
	if err != nil {
		return models.MediaSource{}, models.MediaArtifact{}, err
	}
	art, err := s.store.BeginArtifact(ctx, models.MediaArtifact{
		SourceID:   src.ID,
		TenantID:   src.TenantID,
		Language:   src.Language,
		IsOriginal: true,
	}, s.staleAfter)
	if err != nil {
		return models.MediaSource{}, models.MediaArtifact{}, err
	}
	return src, art, nil
}

func (s *Service) beginTranslation(ctx context.Context, sourceID, language string) (models.MediaSource, models.MediaArtifact, models.MediaArtifact, error) {
	var zero models.MediaArtifact
	if s.translator == nil {
		return models.MediaSource{}, zero, zero, ErrUnavailable
	}
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" || len(language) > 8 {
		return models.MediaSource{}, zero, zero, fmt.Errorf("%w: %q", ErrInvalidLanguage, language)
	}
	src, err := s.store.GetMediaSource(ctx, sourceID)
	if err != nil {
		return models.MediaSource{}, zero, zero, err
	}
	if language == src.Language {
		return models.MediaSource{}, zero, zero, fmt.Errorf("%w: %q is the original language", ErrInvalidLanguage, language)
	}
	original, err := s.store.GetArtifact(ctx, sourceID, src.Language)
	if errors.Is(err, ErrNotFound) {
		return models.MediaSource{}, zero, zero, ErrOriginalNotReady
	}
	if err != nil {
		return models.MediaSource{}, zero, zero, err
	}
	if original.Status != models.ArtifactCompleted {
		return models.MediaSource{}, zero, zero, ErrOriginalNotReady
	}
	art, err := s.store.BeginArtifact(ctx, models.MediaArtifact{
		SourceID: src.ID,
		TenantID: src.TenantID,
		Language: language,
	}, s.staleAfter)
	if err != nil {
		return models.MediaSource{}, zero, zero, err
	}
	return src, original, art, nil
}

func (s *Service) transcribe(ctx context.Context, src models.MediaSource, art models.MediaArtifact) error {
	segments, err := s.transcriber.Transcribe(ctx, src.MediaURL, src.Language)
	if err != nil {
		return s.fail(ctx, "transcribe", art, fmt.Errorf("transcribe: %w", err))
	}
	return s.publish(ctx, "transcribe", src, art, segments)
}

func (s *Service) translate(ctx context.Context, src models.MediaSource, original, art models.MediaArtifact) error {
	segments, err := segmentsFromResult(original.Result)
	if err != nil {
		return s.fail(ctx, "translate", art, err)
	}
	translated, err := s.translator.TranslateSegments(ctx, segments, src.Language, art.Language)
	if err != nil {
		return s.fail(ctx, "translate", art, fmt.Errorf("translate: %w", err))
	}
	return s.publish(ctx, "translate", src, art, translated)
}

func subtitleKey(src models.MediaSource, language string) string {
	return path.Join("subtitles", src.TenantID, src.ID, language+".vtt")
}

// publish uploads the rendered track and marks the artifact Completed.
func (s *Service) publish(ctx context.Context, kind string, src models.MediaSource, art models.MediaArtifact, segments []models.SubtitleSegment) error {
	key := subtitleKey(src, art.Language)
	if err := s.objects.Put(ctx, key, RenderVTT(segments), "text/vtt"); err != nil {
		return s.fail(ctx, kind, art, fmt.Errorf("upload subtitles: %w", err))
	}
	result := map[string]any{
		"segments": segments,
		"key":      key,
		"language": art.Language,
	}
	if err := s.store.CompleteArtifact(ctx, art.ID, result, key); err != nil {
		return s.fail(ctx, kind, art, err)
	}
	telemetry.MediaOutcomes.WithLabelValues(kind, "completed").Inc()
	s.log.Info("subtitles completed",
		zap.String("kind", kind),
		zap.String("artifact_id", art.ID),
		zap.String("source_id", src.ID),
		zap.String("language", art.Language),
		zap.Int("segments", len(segments)))
	return nil
}

// fail records cause on the artifact. The write uses a context that survives
// the pipeline's own deadline so a timed-out run still ends Failed.
func (s *Service) fail(ctx context.Context, kind string, art models.MediaArtifact, cause error) error {
	telemetry.MediaOutcomes.WithLabelValues(kind, "failed").Inc()
	if err := s.store.FailArtifact(context.WithoutCancel(ctx), art.ID, cause.Error()); err != nil {
		s.log.Error("record artifact failure", zap.String("artifact_id", art.ID), zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}
