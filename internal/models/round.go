package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Round struct {
	ID                     int64   `db:"id" json:"id"`
	Name                   string  `db:"name" json:"name"`
	ClosingTime            int64   `db:"closing_time" json:"closing_time"`
	LateSubmissionsAllowed bool    `db:"late_submissions_allowed" json:"late_submissions_allowed"`
	LateSubmissionDeadline int64   `db:"late_submission_deadline" json:"late_submission_deadline"`
	LateSubmissionPenalty  float64 `db:"late_submission_penalty" json:"late_submission_penalty" validate:"min=0,max=1"`
}

// IsLateSubmissionOpen reports whether t falls inside the late window.
func (r Round) IsLateSubmissionOpen(t int64) bool {
	return r.LateSubmissionsAllowed && t <= r.LateSubmissionDeadline
}

func (r *Round) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.LateSubmissionsAllowed && r.LateSubmissionDeadline < r.ClosingTime {
		return fmt.Errorf("late submission deadline %d is before closing time %d", r.LateSubmissionDeadline, r.ClosingTime)
	}
	return nil
}

type Category struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name" validate:"required"`
	PointsToPass int    `db:"points_to_pass" json:"points_to_pass" validate:"min=0"`
}

func (c *Category) Validate() error {
	return validator.New().Struct(c)
}
