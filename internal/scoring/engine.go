package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/semla/internal/models"
)

type Clock func() time.Time

// Counter counts a student's submissions to an exercise made at or before a
// given time, leaving out one submission id.
type Counter interface {
	CountSubmissionsUpTo(ctx context.Context, exerciseID, submitterID, atOrBefore, excludingID int64) (int, error)
}

// Input carries the already resolved records a submission is scored against.
type Input struct {
	Exercise       models.Exercise
	Round          models.Round
	Deviation      *models.DeadlineDeviation
	LimitDeviation *models.SubmitLimitDeviation
}

// MaxSubmissions is the effective attempt limit, 0 meaning unlimited.
func (in Input) MaxSubmissions() int {
	limit := in.Exercise.MaxSubmissionsPerStudent
	if limit > 0 && in.LimitDeviation != nil {
		limit += in.LimitDeviation.ExtraSubmissions
	}
	return limit
}

type Engine struct {
	counter Counter
}

func NewEngine(counter Counter) *Engine {
	return &Engine{counter: counter}
}

// SetPoints scales the service points to the exercise maximum, applies the late
// penalty unless noPenalties is set and zeroes submissions over the attempt
// limit. Service points above the service maximum are not clamped, so the
// grade can exceed the exercise maximum. Nothing is saved here. On error sub is
// left unmodified.
func (e *Engine) SetPoints(ctx context.Context, sub *models.Submission, in Input, servicePoints, serviceMaxPoints int, noPenalties bool) error {
	adjusted := Scale(servicePoints, serviceMaxPoints, in.Exercise.MaxPoints)

	penalty := models.NoPenalty()
	if !noPenalties {
		switch Classify(sub.SubmissionTime, in.Round, in.Deviation) {
		case LateWithPenalty:
			penalty = models.LateRatio(in.Round.LateSubmissionPenalty)
		case LateRejected:
			penalty = models.RejectedPenalty()
		}
	}
	if ratio, ok := penalty.Applied(); ok {
		adjusted -= adjusted * ratio
	}

	rounded := Round(adjusted)

	prior, err := e.counter.CountSubmissionsUpTo(ctx, sub.ExerciseID, sub.SubmitterID, sub.SubmissionTime, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to count submissions: %w", err)
	}
	count := prior + 1

	grade := rounded
	if limit := in.MaxSubmissions(); limit > 0 && count > limit {
		grade = 0
	}

	sub.ServicePoints = servicePoints
	sub.ServiceMaxPoints = serviceMaxPoints
	sub.LatePenaltyApplied = penalty
	sub.Grade = grade
	return nil
}
