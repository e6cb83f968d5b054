package models

import "github.com/go-playground/validator/v10"

// DeadlineDeviation extends the deadline of one exercise for one student.
type DeadlineDeviation struct {
	ExerciseID     int64 `db:"exercise_id" json:"exercise_id" validate:"required"`
	SubmitterID    int64 `db:"submitter_id" json:"submitter_id" validate:"required"`
	NewDeadline    int64 `db:"new_deadline" json:"new_deadline"`
	UseLatePenalty bool  `db:"use_late_penalty" json:"use_late_penalty"`
}

// SubmitLimitDeviation grants one student extra attempts on a limited exercise.
type SubmitLimitDeviation struct {
	ExerciseID       int64 `db:"exercise_id" json:"exercise_id" validate:"required"`
	SubmitterID      int64 `db:"submitter_id" json:"submitter_id" validate:"required"`
	ExtraSubmissions int   `db:"extra_submissions" json:"extra_submissions" validate:"min=0"`
}

func (d *DeadlineDeviation) Validate() error {
	return validator.New().Struct(d)
}

func (d *SubmitLimitDeviation) Validate() error {
	return validator.New().Struct(d)
}

// unique_together is enforced on DB level:
/*
CONSTRAINT deadline_deviations_pkey PRIMARY KEY (exercise_id, submitter_id)
CONSTRAINT submit_limit_deviations_pkey PRIMARY KEY (exercise_id, submitter_id)
*/
