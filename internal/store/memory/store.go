// Package memory keeps everything in process memory. It backs the "memory"
// DSN and the tests of the packages above the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/store"
)

type deviationKey struct {
	exerciseID, submitterID int64
}

type MemoryStore struct {
	mu sync.Mutex

	nextID          int64
	categories      map[int64]models.Category
	rounds          map[int64]models.Round
	objects         map[int64]models.LearningObject
	deadlines       map[deviationKey]models.DeadlineDeviation
	submitLimits    map[deviationKey]models.SubmitLimitDeviation
	submissions     map[int64]models.Submission
	failNextUpdates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories:   make(map[int64]models.Category),
		rounds:       make(map[int64]models.Round),
		objects:      make(map[int64]models.LearningObject),
		deadlines:    make(map[deviationKey]models.DeadlineDeviation),
		submitLimits: make(map[deviationKey]models.SubmitLimitDeviation),
		submissions:  make(map[int64]models.Submission),
	}
}

func (s *MemoryStore) Close() error                     { return nil }
func (s *MemoryStore) ApplyMigrations(dir string) error { return nil }

// FailUpdates makes the next n submission updates fail.
func (s *MemoryStore) FailUpdates(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextUpdates = n
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateCategory(ctx context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	category.ID = s.id()
	s.categories[category.ID] = *category
	return nil
}

func (s *MemoryStore) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, store.ErrNotFound)
	}
	return &category, nil
}

func (s *MemoryStore) CreateRound(ctx context.Context, round *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	round.ID = s.id()
	s.rounds[round.ID] = *round
	return nil
}

func (s *MemoryStore) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", id, store.ErrNotFound)
	}
	return &round, nil
}

func (s *MemoryStore) CreateLearningObject(ctx context.Context, lo *models.LearningObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo.ID = s.id()
	s.objects[lo.ID] = *lo
	return nil
}

func (s *MemoryStore) GetLearningObject(ctx context.Context, id int64) (*models.LearningObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("learning object %d: %w", id, store.ErrNotFound)
	}
	return &lo, nil
}

func (s *MemoryStore) ListCategoryObjects(ctx context.Context, categoryID int64) ([]models.LearningObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var objects []models.LearningObject
	for _, lo := range s.objects {
		if lo.CategoryID == categoryID {
			objects = append(objects, lo)
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

func (s *MemoryStore) UpsertDeadlineDeviation(ctx context.Context, deviation models.DeadlineDeviation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[deviationKey{deviation.ExerciseID, deviation.SubmitterID}] = deviation
	return nil
}

func (s *MemoryStore) GetDeadlineDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.DeadlineDeviation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deviation, ok := s.deadlines[deviationKey{exerciseID, submitterID}]
	if !ok {
		return nil, nil
	}
	return &deviation, nil
}

func (s *MemoryStore) UpsertSubmitLimitDeviation(ctx context.Context, deviation models.SubmitLimitDeviation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitLimits[deviationKey{deviation.ExerciseID, deviation.SubmitterID}] = deviation
	return nil
}

func (s *MemoryStore) GetSubmitLimitDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.SubmitLimitDeviation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deviation, ok := s.submitLimits[deviationKey{exerciseID, submitterID}]
	if !ok {
		return nil, nil
	}
	return &deviation, nil
}

func (s *MemoryStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[sub.ExerciseID]; !ok {
		return fmt.Errorf("failed to create submission: exercise %d: %w", sub.ExerciseID, store.ErrNotFound)
	}
	sub.ID = s.id()
	s.submissions[sub.ID] = *sub
	return nil
}

func (s *MemoryStore) GetSubmission(ctx context.Context, id int64) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, fmt.Errorf("submission %d: %w", id, store.ErrNotFound)
	}
	return &sub, nil
}

func (s *MemoryStore) UpdateSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextUpdates > 0 {
		s.failNextUpdates--
		return fmt.Errorf("failed to update submission: injected failure")
	}
	stored, ok := s.submissions[sub.ID]
	if !ok {
		return fmt.Errorf("submission %d: %w", sub.ID, store.ErrNotFound)
	}
	updated := *sub
	updated.Hash = stored.Hash
	updated.ExerciseID = stored.ExerciseID
	updated.SubmitterID = stored.SubmitterID
	updated.SubmissionTime = stored.SubmissionTime
	updated.SubmissionData = stored.SubmissionData
	s.submissions[sub.ID] = updated
	return nil
}

func (s *MemoryStore) DeleteSubmission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return fmt.Errorf("submission %d: %w", id, store.ErrNotFound)
	}
	delete(s.submissions, id)
	return nil
}

func (s *MemoryStore) ListSubmissions(ctx context.Context, exerciseID, submitterID int64) ([]models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []models.Submission
	for _, sub := range s.submissions {
		if sub.ExerciseID == exerciseID && sub.SubmitterID == submitterID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubmissionTime != subs[j].SubmissionTime {
			return subs[i].SubmissionTime < subs[j].SubmissionTime
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (s *MemoryStore) CountSubmissionsUpTo(ctx context.Context, exerciseID, submitterID, atOrBefore, excludingID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sub := range s.submissions {
		if sub.ExerciseID == exerciseID && sub.SubmitterID == submitterID && sub.SubmissionTime <= atOrBefore && sub.ID != excludingID {
			count++
		}
	}
	return count, nil
}

var _ store.SubmissionStore = (*MemoryStore)(nil)
