package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/semla/internal/aggregate"
	"github.com/shrimpsizemoose/semla/internal/attachments"
	"github.com/shrimpsizemoose/semla/internal/gradebook"
	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/scoring"
	"github.com/shrimpsizemoose/semla/internal/store"
	"github.com/shrimpsizemoose/semla/internal/store/memory"
)

const (
	student = int64(42)
	now     = int64(500)
)

type recordingPusher struct {
	grades []gradebook.Grade
	err    error
}

func (p *recordingPusher) Push(ctx context.Context, grade gradebook.Grade) error {
	p.grades = append(p.grades, grade)
	return p.err
}

// brokenFiles keeps attachments but cannot remove them.
type brokenFiles struct {
	attachments.Store
}

func (brokenFiles) DeleteAll(ctx context.Context, submissionID int64) error {
	return errors.New("disk is read-only")
}

func (p *recordingPusher) last(t *testing.T) gradebook.Grade {
	t.Helper()
	require.NotEmpty(t, p.grades, "nothing was pushed")
	return p.grades[len(p.grades)-1]
}

type fixture struct {
	svc      *Service
	store    *memory.MemoryStore
	pusher   *recordingPusher
	exercise models.Exercise
	round    models.Round
}

func setup(t *testing.T, maxSubmissions int) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.NewMemoryStore()

	category := models.Category{Name: "Exercises"}
	require.NoError(t, st.CreateCategory(ctx, &category))
	round := models.Round{
		Name:                   "Round 1",
		ClosingTime:            100,
		LateSubmissionsAllowed: true,
		LateSubmissionDeadline: 200,
		LateSubmissionPenalty:  0.5,
	}
	require.NoError(t, st.CreateRound(ctx, &round))
	lo := models.ExerciseObject(models.Exercise{
		CategoryID:               category.ID,
		RoundID:                  round.ID,
		Name:                     "hello",
		MaxPoints:                10,
		MaxSubmissionsPerStudent: maxSubmissions,
	})
	require.NoError(t, st.CreateLearningObject(ctx, &lo))
	ex, _ := lo.Exercise()

	files, err := attachments.NewFSStore(t.TempDir())
	require.NoError(t, err)

	pusher := &recordingPusher{}
	clock := func() time.Time { return time.Unix(now, 0) }
	svc := NewService(st, scoring.NewEngine(st), aggregate.NewAggregator(st, pusher), files, clock)
	return &fixture{svc: svc, store: st, pusher: pusher, exercise: ex, round: round}
}

// submit creates a submission at the given time and marks it waiting.
func (f *fixture) submit(t *testing.T, at int64) *models.Submission {
	t.Helper()
	ctx := context.Background()
	sub, err := f.svc.Create(ctx, f.exercise.ID, student, models.Document(`{"answer":42}`), &at)
	require.NoError(t, err)
	sub, err = f.svc.SetWaiting(ctx, sub.ID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) grade(t *testing.T, id int64, points, max int) *models.Submission {
	t.Helper()
	sub, err := f.svc.Grade(context.Background(), id, GradeResult{ServicePoints: points, ServiceMaxPoints: max, Feedback: "ok"})
	require.NoError(t, err)
	return sub
}

func TestCreate(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, f.exercise.ID, student, models.Document(`{"answer":42}`), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitialized, sub.Status)
	assert.Equal(t, now, sub.SubmissionTime, "defaults to the clock")
	assert.Len(t, sub.Hash, 32)

	stored, err := f.svc.GetWithHash(ctx, sub.ID, sub.Hash)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":42}`, string(stored.SubmissionData))

	_, err = f.svc.GetWithHash(ctx, sub.ID, strings.Repeat("0", 32))
	assert.ErrorIs(t, err, ErrHashMismatch)

	chapter := models.LearningObject{Kind: models.KindChapter, CategoryID: f.exercise.CategoryID, RoundID: f.round.ID, Name: "intro"}
	require.NoError(t, f.store.CreateLearningObject(ctx, &chapter))
	_, err = f.svc.Create(ctx, chapter.ID, student, nil, nil)
	assert.ErrorIs(t, err, ErrNotGradable)

	_, err = f.svc.Create(ctx, 9999, student, nil, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrade(t *testing.T) {
	testCases := []struct {
		name          string
		at            int64
		points, max   int
		expectGrade   int
		expectPenalty models.LatePenalty
	}{
		{name: "on time", at: 50, points: 8, max: 10, expectGrade: 8, expectPenalty: models.NoPenalty()},
		{name: "late window", at: 150, points: 10, max: 10, expectGrade: 5, expectPenalty: models.LateRatio(0.5)},
		{name: "after late window", at: 250, points: 10, max: 10, expectGrade: 0, expectPenalty: models.RejectedPenalty()},
		{name: "service max zero", at: 50, points: 5, max: 0, expectGrade: 0, expectPenalty: models.NoPenalty()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, 0)
			sub := f.submit(t, tc.at)
			graded := f.grade(t, sub.ID, tc.points, tc.max)

			assert.Equal(t, models.StatusReady, graded.Status)
			assert.Equal(t, tc.expectGrade, graded.Grade)
			assert.Equal(t, tc.expectPenalty, graded.LatePenaltyApplied)
			require.NotNil(t, graded.GradingTime)
			assert.Equal(t, now, *graded.GradingTime)
			assert.Equal(t, "ok", graded.Feedback)

			stored, err := f.svc.Get(context.Background(), sub.ID)
			require.NoError(t, err)
			assert.Equal(t, graded, stored)

			pushed := f.pusher.last(t)
			assert.True(t, pushed.Present)
			assert.Equal(t, tc.expectGrade, pushed.RawGrade)
			assert.Equal(t, student, pushed.ModifiedBy)
			assert.Equal(t, tc.at, pushed.SubmittedAt)
		})
	}
}

func TestGradeWithDeviation(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertDeadlineDeviation(ctx, models.DeadlineDeviation{
		ExerciseID: f.exercise.ID, SubmitterID: student, NewDeadline: 300, UseLatePenalty: false,
	}))

	sub := f.submit(t, 250)
	graded := f.grade(t, sub.ID, 10, 10)
	assert.Equal(t, 10, graded.Grade)
	assert.Equal(t, models.NoPenalty(), graded.LatePenaltyApplied)
}

func TestSubmissionLimit(t *testing.T) {
	f := setup(t, 3)

	var grades []int
	for i := int64(1); i <= 4; i++ {
		sub := f.submit(t, 10*i)
		grades = append(grades, f.grade(t, sub.ID, 10, 10).Grade)
	}
	assert.Equal(t, []int{10, 10, 10, 0}, grades)
	assert.Equal(t, 10, f.pusher.last(t).RawGrade, "best stays at full marks")

	subs, err := f.svc.List(context.Background(), f.exercise.ID, student)
	require.NoError(t, err)
	require.Len(t, subs, 4)
	assert.Equal(t, int64(40), subs[3].SubmissionTime, "ordered by submission time")

	t.Run("extra submissions lift the limit", func(t *testing.T) {
		require.NoError(t, f.store.UpsertSubmitLimitDeviation(context.Background(), models.SubmitLimitDeviation{
			ExerciseID: f.exercise.ID, SubmitterID: student, ExtraSubmissions: 2,
		}))
		sub := f.submit(t, 50)
		assert.Equal(t, 10, f.grade(t, sub.ID, 10, 10).Grade)
	})
}

func TestIllegalTransitions(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	onTime := int64(50)
	created, err := f.svc.Create(ctx, f.exercise.ID, student, nil, &onTime)
	require.NoError(t, err)

	_, err = f.svc.Grade(ctx, created.ID, GradeResult{ServicePoints: 1, ServiceMaxPoints: 1})
	assert.ErrorIs(t, err, ErrIllegalTransition, "grading needs Waiting")
	_, err = f.svc.SetError(ctx, created.ID, "boom")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.svc.SetWaiting(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.svc.SetWaiting(ctx, created.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	f.grade(t, created.ID, 4, 10)
	for name, op := range map[string]func() (*models.Submission, error){
		"waiting":  func() (*models.Submission, error) { return f.svc.SetWaiting(ctx, created.ID) },
		"error":    func() (*models.Submission, error) { return f.svc.SetError(ctx, created.ID, "late failure") },
		"rejected": func() (*models.Submission, error) { return f.svc.SetRejected(ctx, created.ID, "late rejection") },
	} {
		_, err := op()
		assert.ErrorIs(t, err, ErrIllegalTransition, "Ready -> %s", name)
	}

	stored, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Equal(t, 4, stored.Grade)

	_, err = f.svc.SetWaiting(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFail(t *testing.T) {
	testCases := []struct {
		kind   FailureKind
		expect models.Status
	}{
		{ConnectionFailure, models.StatusError},
		{ServerFailure, models.StatusError},
		{ContentRejected, models.StatusRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			f := setup(t, 0)
			sub := f.submit(t, 50)

			failed, err := f.svc.Fail(context.Background(), sub.ID, &GradingError{Kind: tc.kind, Err: errors.New("grader said no")})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, failed.Status)
			assert.Equal(t, "grader said no", failed.Feedback)
			assert.Equal(t, 0, failed.Grade)
			assert.Nil(t, failed.GradingTime)
			assert.Empty(t, f.pusher.grades, "failures do not touch the gradebook")

			_, err = f.svc.Grade(context.Background(), sub.ID, GradeResult{ServicePoints: 1, ServiceMaxPoints: 1})
			assert.ErrorIs(t, err, ErrIllegalTransition, "failures are terminal")
		})
	}
}

func TestFailWithoutCause(t *testing.T) {
	f := setup(t, 0)
	sub := f.submit(t, 50)

	failed, err := f.svc.Fail(context.Background(), sub.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Empty(t, failed.Feedback)
}

func TestRegradePushesEvenWhenLower(t *testing.T) {
	f := setup(t, 0)
	first := f.submit(t, 10)
	f.grade(t, first.ID, 9, 10)
	second := f.submit(t, 20)
	f.grade(t, second.ID, 6, 10)

	pushes := len(f.pusher.grades)
	regraded := f.grade(t, second.ID, 3, 10)
	assert.Equal(t, 3, regraded.Grade)
	assert.Len(t, f.pusher.grades, pushes+1)
	assert.Equal(t, 9, f.pusher.last(t).RawGrade)
	assert.Equal(t, first.ID, f.pusher.last(t).SubmissionID)
}

func TestEditGrade(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sub := f.submit(t, 50)

	_, err := f.svc.EditGrade(ctx, sub.ID, ManualGrade{GraderID: 7, Grade: 5})
	assert.ErrorIs(t, err, ErrIllegalTransition, "only graded submissions can be edited")

	f.grade(t, sub.ID, 4, 10)

	for _, grade := range []int{-1, 11} {
		_, err := f.svc.EditGrade(ctx, sub.ID, ManualGrade{GraderID: 7, Grade: grade})
		assert.ErrorIs(t, err, ErrGradeOutOfRange)
	}

	edited, err := f.svc.EditGrade(ctx, sub.ID, ManualGrade{GraderID: 7, Grade: 10, Feedback: "nice", AssistantFeedback: "well done"})
	require.NoError(t, err)
	assert.Equal(t, 10, edited.Grade)
	require.NotNil(t, edited.GraderID)
	assert.Equal(t, int64(7), *edited.GraderID)
	assert.Equal(t, "well done", edited.AssistantFeedback)

	pushed := f.pusher.last(t)
	assert.Equal(t, 10, pushed.RawGrade)
	assert.Equal(t, int64(7), pushed.ModifiedBy)
}

func TestDelete(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	low := f.submit(t, 10)
	f.grade(t, low.ID, 4, 10)
	best := f.submit(t, 20)
	f.grade(t, best.ID, 9, 10)
	pending := f.submit(t, 30)

	_, err := f.svc.AddAttachment(ctx, best.ID, "code", "main.py", strings.NewReader("print(1)"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, best.ID, true))
	pushed := f.pusher.last(t)
	assert.Equal(t, 4, pushed.RawGrade, "falls back to the next best")
	assert.Equal(t, low.ID, pushed.SubmissionID)

	_, err = f.svc.Get(ctx, best.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.Attachments(ctx, best.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	pushes := len(f.pusher.grades)
	require.NoError(t, f.svc.Delete(ctx, pending.ID, false))
	assert.Len(t, f.pusher.grades, pushes, "no push without updateGradebook")

	require.NoError(t, f.svc.Delete(ctx, low.ID, true))
	assert.False(t, f.pusher.last(t).Present, "nothing graded is left")

	assert.ErrorIs(t, f.svc.Delete(ctx, low.ID, true), store.ErrNotFound)
}

func TestDeleteKeepsGoingWhenFilesStay(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	files, err := attachments.NewFSStore(t.TempDir())
	require.NoError(t, err)
	clock := func() time.Time { return time.Unix(now, 0) }
	svc := NewService(f.store, scoring.NewEngine(f.store), aggregate.NewAggregator(f.store, f.pusher), brokenFiles{files}, clock)

	sub := f.submit(t, 50)
	f.grade(t, sub.ID, 7, 10)
	_, err = svc.AddAttachment(ctx, sub.ID, "code", "main.py", strings.NewReader("print(1)"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sub.ID, true))
	_, err = svc.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "the record is gone")
	assert.False(t, f.pusher.last(t).Present)

	left, err := files.List(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, left, 1, "files that could not be removed stay on disk")
	assert.Equal(t, "main.py", left[0].Filename)
}

func TestLocksAreReleased(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sub := f.submit(t, 50)
	f.grade(t, sub.ID, 5, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(points int) {
			defer wg.Done()
			_, err := f.svc.Grade(ctx, sub.ID, GradeResult{ServicePoints: points, ServiceMaxPoints: 10})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err := f.svc.SetWaiting(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, f.svc.Delete(ctx, sub.ID, false))

	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	assert.Empty(t, f.svc.locks)
}

func TestFailedUpdateLeavesSubmissionUnchanged(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sub := f.submit(t, 50)

	f.store.FailUpdates(1)
	_, err := f.svc.Grade(ctx, sub.ID, GradeResult{ServicePoints: 10, ServiceMaxPoints: 10})
	require.Error(t, err)

	stored, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub, stored)
	assert.Empty(t, f.pusher.grades)

	graded := f.grade(t, sub.ID, 10, 10)
	assert.Equal(t, 10, graded.Grade, "the submission can still be graded")
}

func TestGradebookFailureKeepsGrade(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sub := f.submit(t, 50)

	f.pusher.err = errors.New("gradebook down")
	graded, err := f.svc.Grade(ctx, sub.ID, GradeResult{ServicePoints: 10, ServiceMaxPoints: 10})
	assert.ErrorIs(t, err, ErrGradebookSync)
	require.NotNil(t, graded)

	stored, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Equal(t, 10, stored.Grade)
}

func TestAttachments(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	sub := f.submit(t, 50)

	_, err := f.svc.AddAttachment(ctx, sub.ID, "essay", "essay.txt", strings.NewReader("words"))
	require.NoError(t, err)

	files, err := f.svc.Attachments(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "essay.txt", files[0].Filename)

	_, err = f.svc.AddAttachment(ctx, 9999, "essay", "essay.txt", strings.NewReader("words"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseFailureKind(t *testing.T) {
	for _, kind := range []FailureKind{ConnectionFailure, ServerFailure, ContentRejected} {
		parsed, err := ParseFailureKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseFailureKind("cosmic rays")
	assert.Error(t, err)
}
