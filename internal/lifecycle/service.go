// Package lifecycle moves submissions through their statuses:
//
//	Initialized -> Waiting -> Ready | Error | Rejected
//
// Ready may be re-entered by grading again. Every change that can move the
// best score is followed by a synchronous gradebook push.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/aggregate"
	"github.com/shrimpsizemoose/semla/internal/attachments"
	"github.com/shrimpsizemoose/semla/internal/metrics"
	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/scoring"
	"github.com/shrimpsizemoose/semla/internal/store"
)

type GradeResult struct {
	ServicePoints    int
	ServiceMaxPoints int
	Feedback         string
	GradingData      models.Document
	NoPenalties      bool
}

type ManualGrade struct {
	GraderID          int64
	Grade             int
	Feedback          string
	AssistantFeedback string
}

type Service struct {
	store       store.SubmissionStore
	engine      *scoring.Engine
	aggregator  *aggregate.Aggregator
	attachments attachments.Store
	clock       scoring.Clock

	mu    sync.Mutex
	locks map[int64]*submissionLock
}

func NewService(st store.SubmissionStore, engine *scoring.Engine, aggregator *aggregate.Aggregator, files attachments.Store, clock scoring.Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:       st,
		engine:      engine,
		aggregator:  aggregator,
		attachments: files,
		clock:       clock,
		locks:       make(map[int64]*submissionLock),
	}
}

type submissionLock struct {
	sync.Mutex
	holders int
}

// lock serializes changes to one submission. The entry is dropped once the
// last holder unlocks.
func (s *Service) lock(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &submissionLock{}
		s.locks[id] = l
	}
	l.holders++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// generateHash returns the 32 character secret a grading callback must present.
func generateHash() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate submission hash: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func (s *Service) exercise(ctx context.Context, id int64) (models.Exercise, error) {
	lo, err := s.store.GetLearningObject(ctx, id)
	if err != nil {
		return models.Exercise{}, err
	}
	ex, ok := lo.Exercise()
	if !ok {
		return models.Exercise{}, fmt.Errorf("%w: %s %d", ErrNotGradable, lo.Kind, id)
	}
	return ex, nil
}

// resolve loads everything a submission is scored against.
func (s *Service) resolve(ctx context.Context, sub *models.Submission) (scoring.Input, error) {
	ex, err := s.exercise(ctx, sub.ExerciseID)
	if err != nil {
		return scoring.Input{}, err
	}
	round, err := s.store.GetRound(ctx, ex.RoundID)
	if err != nil {
		return scoring.Input{}, err
	}
	deviation, err := s.store.GetDeadlineDeviation(ctx, sub.ExerciseID, sub.SubmitterID)
	if err != nil {
		return scoring.Input{}, err
	}
	limit, err := s.store.GetSubmitLimitDeviation(ctx, sub.ExerciseID, sub.SubmitterID)
	if err != nil {
		return scoring.Input{}, err
	}
	return scoring.Input{Exercise: ex, Round: *round, Deviation: deviation, LimitDeviation: limit}, nil
}

// Create stores a new submission. submissionTime defaults to now.
func (s *Service) Create(ctx context.Context, exerciseID, submitterID int64, data models.Document, submissionTime *int64) (*models.Submission, error) {
	if _, err := s.exercise(ctx, exerciseID); err != nil {
		return nil, err
	}
	hash, err := generateHash()
	if err != nil {
		return nil, err
	}

	at := s.clock().Unix()
	if submissionTime != nil {
		at = *submissionTime
	}
	sub := &models.Submission{
		Hash:           hash,
		ExerciseID:     exerciseID,
		SubmitterID:    submitterID,
		SubmissionTime: at,
		Status:         models.StatusInitialized,
		SubmissionData: data,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues(sub.Status.String()).Inc()
	logger.Debug.Printf("Created submission %d for exercise %d student %d at %d", sub.ID, exerciseID, submitterID, at)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// GetWithHash returns the submission only if hash matches its grading hash.
func (s *Service) GetWithHash(ctx context.Context, id int64, hash string) (*models.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(sub.Hash), []byte(hash)) != 1 {
		return nil, fmt.Errorf("submission %d: %w", id, ErrHashMismatch)
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, exerciseID, submitterID int64) ([]models.Submission, error) {
	return s.store.ListSubmissions(ctx, exerciseID, submitterID)
}

func (s *Service) Best(ctx context.Context, exerciseID, submitterID int64) (aggregate.Best, bool, error) {
	return s.aggregator.Best(ctx, exerciseID, submitterID)
}

// transition loads the submission, checks that it may move to the target
// status and lets change edit a copy. The copy is saved and returned only
// when change succeeds.
func (s *Service) transition(ctx context.Context, id int64, to models.Status, change func(sub *models.Submission) error) (*models.Submission, error) {
	stored, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(stored.Status, to) {
		return nil, illegal(stored.Status, to)
	}

	sub := *stored
	if change != nil {
		if err := change(&sub); err != nil {
			return nil, err
		}
	}
	sub.Status = to
	if err := s.store.UpdateSubmission(ctx, &sub); err != nil {
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues(to.String()).Inc()
	logger.Debug.Printf("Submission %d: %s -> %s", id, stored.Status, to)
	return &sub, nil
}

func canTransition(from, to models.Status) bool {
	switch from {
	case models.StatusInitialized:
		return to == models.StatusWaiting
	case models.StatusWaiting:
		return to == models.StatusReady || to == models.StatusError || to == models.StatusRejected
	case models.StatusReady:
		return to == models.StatusReady
	}
	return false
}

func (s *Service) SetWaiting(ctx context.Context, id int64) (*models.Submission, error) {
	defer s.lock(id)()
	return s.transition(ctx, id, models.StatusWaiting, nil)
}

// Grade scores a grading result and pushes the new best grade of the student.
// The push happens even when the best did not change.
func (s *Service) Grade(ctx context.Context, id int64, result GradeResult) (*models.Submission, error) {
	defer s.lock(id)()

	sub, err := s.transition(ctx, id, models.StatusReady, func(sub *models.Submission) error {
		in, err := s.resolve(ctx, sub)
		if err != nil {
			return err
		}
		if err := s.engine.SetPoints(ctx, sub, in, result.ServicePoints, result.ServiceMaxPoints, result.NoPenalties); err != nil {
			return err
		}
		gradedAt := s.clock().Unix()
		sub.GradingTime = &gradedAt
		sub.Feedback = result.Feedback
		sub.GradingData = result.GradingData
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SubmissionGrade.Observe(float64(sub.Grade))
	logger.Debug.Printf("Graded submission %d: %d/%d -> %d (penalty %v)", id, sub.ServicePoints, sub.ServiceMaxPoints, sub.Grade, sub.LatePenaltyApplied)
	return sub, s.sync(ctx, sub.ExerciseID, sub.SubmitterID)
}

func (s *Service) SetError(ctx context.Context, id int64, cause string) (*models.Submission, error) {
	defer s.lock(id)()
	return s.transition(ctx, id, models.StatusError, withFeedback(cause))
}

func (s *Service) SetRejected(ctx context.Context, id int64, cause string) (*models.Submission, error) {
	defer s.lock(id)()
	return s.transition(ctx, id, models.StatusRejected, withFeedback(cause))
}

func withFeedback(cause string) func(sub *models.Submission) error {
	return func(sub *models.Submission) error {
		if cause != "" {
			sub.Feedback = cause
		}
		return nil
	}
}

// Fail records a grading backend failure. Content rejections end in Rejected,
// everything else in Error. A nil failure counts as a server failure.
func (s *Service) Fail(ctx context.Context, id int64, gerr *GradingError) (*models.Submission, error) {
	if gerr == nil {
		gerr = &GradingError{Kind: ServerFailure}
	}
	logger.Error.Printf("Grading submission %d failed: %v", id, gerr)
	cause := ""
	if gerr.Err != nil {
		cause = gerr.Err.Error()
	}
	if gerr.Status() == models.StatusRejected {
		return s.SetRejected(ctx, id, cause)
	}
	return s.SetError(ctx, id, cause)
}

// EditGrade overrides the grade of a graded submission by hand.
func (s *Service) EditGrade(ctx context.Context, id int64, manual ManualGrade) (*models.Submission, error) {
	defer s.lock(id)()

	sub, err := s.transition(ctx, id, models.StatusReady, func(sub *models.Submission) error {
		if sub.Status != models.StatusReady {
			return illegal(sub.Status, models.StatusReady)
		}
		ex, err := s.exercise(ctx, sub.ExerciseID)
		if err != nil {
			return err
		}
		if manual.Grade < 0 || manual.Grade > ex.MaxPoints {
			return fmt.Errorf("%w: %d not in [0, %d]", ErrGradeOutOfRange, manual.Grade, ex.MaxPoints)
		}
		gradedAt := s.clock().Unix()
		graderID := manual.GraderID
		sub.Grade = manual.Grade
		sub.GraderID = &graderID
		sub.GradingTime = &gradedAt
		sub.Feedback = manual.Feedback
		sub.AssistantFeedback = manual.AssistantFeedback
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug.Printf("Grader %d set grade of submission %d to %d", manual.GraderID, id, manual.Grade)
	return sub, s.sync(ctx, sub.ExerciseID, sub.SubmitterID)
}

// Delete removes a submission in any status together with its attachments.
// With updateGradebook the best grade is recomputed and pushed afterwards.
// The record goes first; attachments left behind by a failed removal are
// only logged.
func (s *Service) Delete(ctx context.Context, id int64, updateGradebook bool) error {
	defer s.lock(id)()

	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSubmission(ctx, id); err != nil {
		return err
	}
	if err := s.attachments.DeleteAll(ctx, id); err != nil {
		logger.Error.Printf("Failed to remove attachments of deleted submission %d: %v", id, err)
	}
	logger.Debug.Printf("Deleted submission %d (status %s)", id, sub.Status)

	if !updateGradebook {
		return nil
	}
	return s.sync(ctx, sub.ExerciseID, sub.SubmitterID)
}

func (s *Service) AddAttachment(ctx context.Context, id int64, fieldKey, filename string, r io.Reader) (models.Attachment, error) {
	if _, err := s.store.GetSubmission(ctx, id); err != nil {
		return models.Attachment{}, err
	}
	return s.attachments.Add(ctx, id, fieldKey, filename, r)
}

func (s *Service) Attachments(ctx context.Context, id int64) ([]models.Attachment, error) {
	if _, err := s.store.GetSubmission(ctx, id); err != nil {
		return nil, err
	}
	return s.attachments.List(ctx, id)
}

func (s *Service) sync(ctx context.Context, exerciseID, submitterID int64) error {
	if _, err := s.aggregator.Recompute(ctx, exerciseID, submitterID); err != nil {
		logger.Error.Printf("Gradebook sync for exercise %d student %d failed: %v", exerciseID, submitterID, err)
		return fmt.Errorf("%w: %v", ErrGradebookSync, err)
	}
	return nil
}
