// Package survey records health questionnaires and classifies them.
package survey

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/inference"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/entity"
	surveyrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/repo"
)

const (
	LabelHigh = "🟥 High risk of lung cancer"
	LabelLow  = "🟩 Low risk of lung cancer"
)

// Result is what the prediction page shows.
type Result struct {
	RecordID   int64
	Prediction int
	Label      string
}

// Label maps a classifier output to its display text.
func Label(prediction int) string {
	if prediction == 1 {
		return LabelHigh
	}
	return LabelLow
}

type Service struct {
	repo       *surveyrepo.RecordRepo
	classifier inference.Classifier
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewService(db *sqlx.DB, classifier inference.Classifier, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		repo:       surveyrepo.NewRecordRepo(db),
		classifier: classifier,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Repo exposes the record store for exports.
func (s *Service) Repo() *surveyrepo.RecordRepo { return s.repo }

// Predict stores the submission, classifies it and records the outcome. A
// failed classification keeps the row with a NULL prediction.
func (s *Service) Predict(ctx context.Context, f entity.Features) (*Result, error) {
	id, err := s.repo.Insert(ctx, f, s.now())
	if err != nil {
		return nil, err
	}

	pred, err := s.classifier.Predict(ctx, f.Slice())
	if err != nil {
		s.metrics.Prediction("error")
		return nil, fmt.Errorf("classify record %d: %w", id, err)
	}
	if pred != 0 && pred != 1 {
		s.metrics.Prediction("error")
		return nil, fmt.Errorf("classify record %d: %w", id, inference.ErrBadPrediction)
	}

	if err := s.repo.SetPrediction(ctx, id, pred); err != nil {
		s.logger.Warnw("store prediction failed", "record", id, "err", err)
	}
	if pred == 1 {
		s.metrics.Prediction("high")
	} else {
		s.metrics.Prediction("low")
	}
	return &Result{RecordID: id, Prediction: pred, Label: Label(pred)}, nil
}
