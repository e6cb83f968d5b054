package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/semla/internal/gradebook"
	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/store/memory"
)

type recordingPusher struct {
	grades []gradebook.Grade
	err    error
}

func (p *recordingPusher) Push(ctx context.Context, grade gradebook.Grade) error {
	p.grades = append(p.grades, grade)
	return p.err
}

func graded(id, at int64, grade int) models.Submission {
	return models.Submission{ID: id, SubmitterID: 7, SubmissionTime: at, Status: models.StatusReady, Grade: grade}
}

func TestBestOf(t *testing.T) {
	testCases := []struct {
		name     string
		subs     []models.Submission
		expectID int64
		expectOK bool
	}{
		{name: "empty", subs: nil, expectOK: false},
		{
			name: "ungraded are ignored",
			subs: []models.Submission{
				{ID: 1, Status: models.StatusWaiting, Grade: 100},
				{ID: 2, Status: models.StatusError, Grade: 100},
			},
			expectOK: false,
		},
		{
			name:     "highest grade wins",
			subs:     []models.Submission{graded(1, 100, 5), graded(2, 200, 9), graded(3, 300, 7)},
			expectID: 2, expectOK: true,
		},
		{
			name:     "tie goes to earliest",
			subs:     []models.Submission{graded(1, 300, 9), graded(2, 100, 9)},
			expectID: 2, expectOK: true,
		},
		{
			name:     "same time goes to lowest id",
			subs:     []models.Submission{graded(5, 100, 9), graded(3, 100, 9)},
			expectID: 3, expectOK: true,
		},
		{
			name: "pending higher grade does not count",
			subs: []models.Submission{
				graded(1, 100, 4),
				{ID: 2, SubmissionTime: 200, Status: models.StatusRejected, Grade: 10},
			},
			expectID: 1, expectOK: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			best, ok := BestOf(tc.subs)
			assert.Equal(t, tc.expectOK, ok)
			if ok {
				assert.Equal(t, tc.expectID, best.Submission.ID)
			}
		})
	}
}

func setup(t *testing.T) (*memory.MemoryStore, models.Category, models.Exercise) {
	t.Helper()
	s := memory.NewMemoryStore()
	ctx := context.Background()

	category := models.Category{Name: "Exercises", PointsToPass: 10}
	require.NoError(t, s.CreateCategory(ctx, &category))
	round := models.Round{Name: "Round 1", ClosingTime: 1000}
	require.NoError(t, s.CreateRound(ctx, &round))

	lo := models.ExerciseObject(models.Exercise{CategoryID: category.ID, RoundID: round.ID, Name: "hello", MaxPoints: 10, PointsToPass: 5})
	require.NoError(t, s.CreateLearningObject(ctx, &lo))
	ex, _ := lo.Exercise()
	return s, category, ex
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	s, _, ex := setup(t)
	pusher := &recordingPusher{}
	agg := NewAggregator(s, pusher)

	t.Run("nothing graded clears", func(t *testing.T) {
		grade, err := agg.Recompute(ctx, ex.ID, 7)
		require.NoError(t, err)
		assert.False(t, grade.Present)
		assert.Equal(t, 0, grade.RawGrade)
	})

	gradingTime := int64(150)
	for _, sub := range []models.Submission{
		{ExerciseID: ex.ID, SubmitterID: 7, SubmissionTime: 100, Status: models.StatusReady, Grade: 6, GradingTime: &gradingTime},
		{ExerciseID: ex.ID, SubmitterID: 7, SubmissionTime: 200, Status: models.StatusReady, Grade: 8, GradingTime: &gradingTime},
		{ExerciseID: ex.ID, SubmitterID: 8, SubmissionTime: 200, Status: models.StatusReady, Grade: 10},
	} {
		require.NoError(t, s.CreateSubmission(ctx, &sub))
	}

	t.Run("pushes best", func(t *testing.T) {
		grade, err := agg.Recompute(ctx, ex.ID, 7)
		require.NoError(t, err)
		assert.True(t, grade.Present)
		assert.Equal(t, 8, grade.RawGrade)
		assert.Equal(t, int64(200), grade.SubmittedAt)
		assert.Equal(t, int64(150), grade.GradedAt)
		assert.Equal(t, int64(7), grade.ModifiedBy)
		assert.Equal(t, grade, pusher.grades[len(pusher.grades)-1])
	})

	t.Run("push failure is returned", func(t *testing.T) {
		pusher.err = errors.New("gradebook down")
		defer func() { pusher.err = nil }()
		_, err := agg.Recompute(ctx, ex.ID, 7)
		assert.ErrorContains(t, err, "gradebook down")
	})
}

func TestCategoryTotal(t *testing.T) {
	ctx := context.Background()
	s, category, ex := setup(t)
	agg := NewAggregator(s, &recordingPusher{})

	second := models.ExerciseObject(models.Exercise{CategoryID: category.ID, RoundID: ex.RoundID, Name: "world", MaxPoints: 10, PointsToPass: 0})
	require.NoError(t, s.CreateLearningObject(ctx, &second))
	chapter := models.LearningObject{Kind: models.KindChapter, CategoryID: category.ID, RoundID: ex.RoundID, Name: "intro"}
	require.NoError(t, s.CreateLearningObject(ctx, &chapter))

	sub := models.Submission{ExerciseID: ex.ID, SubmitterID: 7, SubmissionTime: 100, Status: models.StatusReady, Grade: 6}
	require.NoError(t, s.CreateSubmission(ctx, &sub))

	total, err := agg.CategoryTotal(ctx, category, 7)
	require.NoError(t, err)
	assert.Len(t, total.Exercises, 2, "chapters are skipped")
	assert.Equal(t, 6, total.Points)
	assert.Equal(t, 20, total.MaxPoints)
	assert.False(t, total.Passed, "6 points is under the category limit")

	sub2 := models.Submission{ExerciseID: second.ID, SubmitterID: 7, SubmissionTime: 100, Status: models.StatusReady, Grade: 4}
	require.NoError(t, s.CreateSubmission(ctx, &sub2))

	total, err = agg.CategoryTotal(ctx, category, 7)
	require.NoError(t, err)
	assert.Equal(t, 10, total.Points)
	assert.True(t, total.Passed)
}
