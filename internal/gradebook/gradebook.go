// Package gradebook delivers computed best grades to the host gradebook.
// Pushes are idempotent: repeating a push with the same values is harmless.
package gradebook

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/metrics"
	"github.com/shrimpsizemoose/semla/internal/models"
)

// Grade is the record pushed for one student and exercise. Present is false
// when the student has no graded submission left.
type Grade struct {
	ExerciseID   int64 `json:"exercise_id"`
	StudentID    int64 `json:"student_id"`
	SubmissionID int64 `json:"submission_id,omitempty"`
	RawGrade     int   `json:"raw_grade"`
	Present      bool  `json:"present"`
	ModifiedBy   int64 `json:"user_modified"`
	GradedAt     int64 `json:"date_graded"`
	SubmittedAt  int64 `json:"date_submitted"`
}

type Pusher interface {
	Push(ctx context.Context, grade Grade) error
}

// FromSubmission builds the gradebook record for a graded submission. The
// modifying user is the grader, or the student for automatic grading only.
func FromSubmission(sub *models.Submission) Grade {
	g := Grade{
		ExerciseID:   sub.ExerciseID,
		StudentID:    sub.SubmitterID,
		SubmissionID: sub.ID,
		RawGrade:     sub.Grade,
		Present:      true,
		ModifiedBy:   sub.ModifiedBy(),
		SubmittedAt:  sub.SubmissionTime,
	}
	if sub.GradingTime != nil {
		g.GradedAt = *sub.GradingTime
	}
	return g
}

// Cleared is pushed when a student has no graded submission for the exercise.
func Cleared(exerciseID, studentID int64) Grade {
	return Grade{ExerciseID: exerciseID, StudentID: studentID, ModifiedBy: studentID}
}

type namedPusher struct {
	name string
	Pusher
}

// Fanout pushes to every sink and joins the errors. A failing sink does not
// stop the others.
type Fanout struct {
	sinks []namedPusher
}

func NewFanout() *Fanout {
	return &Fanout{}
}

func (f *Fanout) Add(name string, p Pusher) *Fanout {
	f.sinks = append(f.sinks, namedPusher{name: name, Pusher: p})
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Push(ctx context.Context, grade Grade) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Push(ctx, grade); err != nil {
			logger.Error.Printf("Gradebook push to %s failed for exercise %d student %d: %v", sink.name, grade.ExerciseID, grade.StudentID, err)
			metrics.GradebookPushes.WithLabelValues(sink.name, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.name, err))
			continue
		}
		metrics.GradebookPushes.WithLabelValues(sink.name, "ok").Inc()
	}
	return errors.Join(errs...)
}
