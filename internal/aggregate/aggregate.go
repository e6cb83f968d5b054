// Package aggregate derives the best score of a student for an exercise and
// keeps the gradebook in step with it. Best scores are never cached.
package aggregate

import (
	"context"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/gradebook"
	"github.com/shrimpsizemoose/semla/internal/models"
)

// Source is the part of the store the aggregator reads.
type Source interface {
	ListSubmissions(ctx context.Context, exerciseID, submitterID int64) ([]models.Submission, error)
	ListCategoryObjects(ctx context.Context, categoryID int64) ([]models.LearningObject, error)
}

type Best struct {
	Submission models.Submission
	Grade      int
}

func (b Best) SubmittedAt() int64 {
	return b.Submission.SubmissionTime
}

// BestOf picks the highest grade among graded submissions. Ties go to the
// earliest submission, then to the lowest id.
func BestOf(subs []models.Submission) (Best, bool) {
	var best Best
	found := false
	for _, sub := range subs {
		grade, ok := sub.GradeValue()
		if !ok {
			continue
		}
		if !found || better(sub, grade, best) {
			best = Best{Submission: sub, Grade: grade}
			found = true
		}
	}
	return best, found
}

func better(sub models.Submission, grade int, best Best) bool {
	if grade != best.Grade {
		return grade > best.Grade
	}
	if sub.SubmissionTime != best.Submission.SubmissionTime {
		return sub.SubmissionTime < best.Submission.SubmissionTime
	}
	return sub.ID < best.Submission.ID
}

type Aggregator struct {
	source Source
	pusher gradebook.Pusher
}

func NewAggregator(source Source, pusher gradebook.Pusher) *Aggregator {
	return &Aggregator{source: source, pusher: pusher}
}

// Best reads the current best submission of a student for an exercise.
func (a *Aggregator) Best(ctx context.Context, exerciseID, submitterID int64) (Best, bool, error) {
	subs, err := a.source.ListSubmissions(ctx, exerciseID, submitterID)
	if err != nil {
		return Best{}, false, fmt.Errorf("failed to read submissions: %w", err)
	}
	best, ok := BestOf(subs)
	return best, ok, nil
}

// Recompute pushes the current best grade of a student, or a cleared grade
// when nothing graded is left.
func (a *Aggregator) Recompute(ctx context.Context, exerciseID, submitterID int64) (gradebook.Grade, error) {
	best, ok, err := a.Best(ctx, exerciseID, submitterID)
	if err != nil {
		return gradebook.Grade{}, err
	}

	grade := gradebook.Cleared(exerciseID, submitterID)
	if ok {
		grade = gradebook.FromSubmission(&best.Submission)
	}

	logger.Debug.Printf("Pushing grade %d (present=%t) for exercise %d student %d", grade.RawGrade, grade.Present, exerciseID, submitterID)
	if err := a.pusher.Push(ctx, grade); err != nil {
		return grade, fmt.Errorf("failed to push grade: %w", err)
	}
	return grade, nil
}

type ExerciseTotal struct {
	Exercise models.Exercise `json:"exercise"`
	Grade    int             `json:"grade"`
	Graded   bool            `json:"graded"`
	Passed   bool            `json:"passed"`
}

type CategoryTotal struct {
	Category  models.Category `json:"category"`
	Points    int             `json:"points"`
	MaxPoints int             `json:"max_points"`
	Passed    bool            `json:"passed"`
	Exercises []ExerciseTotal `json:"exercises"`
}

// CategoryTotal sums the best grades of the category's exercises. The category
// is passed when the sum reaches its points to pass and every exercise reaches
// its own. Chapters are skipped.
func (a *Aggregator) CategoryTotal(ctx context.Context, category models.Category, submitterID int64) (CategoryTotal, error) {
	objects, err := a.source.ListCategoryObjects(ctx, category.ID)
	if err != nil {
		return CategoryTotal{}, fmt.Errorf("failed to read category objects: %w", err)
	}

	total := CategoryTotal{Category: category, Passed: true}
	for _, lo := range objects {
		ex, ok := lo.Exercise()
		if !ok {
			continue
		}
		best, graded, err := a.Best(ctx, ex.ID, submitterID)
		if err != nil {
			return CategoryTotal{}, err
		}

		et := ExerciseTotal{Exercise: ex, Grade: best.Grade, Graded: graded}
		et.Passed = et.Grade >= ex.PointsToPass
		if !et.Passed {
			total.Passed = false
		}
		total.Points += et.Grade
		total.MaxPoints += ex.MaxPoints
		total.Exercises = append(total.Exercises, et)
	}
	if total.Points < category.PointsToPass {
		total.Passed = false
	}
	return total, nil
}
