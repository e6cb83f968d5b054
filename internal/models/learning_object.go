package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type LearningObjectKind string

const (
	KindExercise LearningObjectKind = "exercise"
	KindChapter  LearningObjectKind = "chapter"
)

// LearningObject is a row of learning_objects. Only the exercise variant carries
// grading configuration; use Exercise or Chapter to get the typed view.
type LearningObject struct {
	ID             int64              `db:"id" json:"id"`
	Kind           LearningObjectKind `db:"kind" json:"kind" validate:"required,oneof=exercise chapter"`
	CategoryID     int64              `db:"category_id" json:"category_id" validate:"required"`
	RoundID        int64              `db:"round_id" json:"round_id" validate:"required"`
	Name           string             `db:"name" json:"name"`
	MaxPoints      int                `db:"max_points" json:"max_points" validate:"min=0"`
	PointsToPass   int                `db:"points_to_pass" json:"points_to_pass" validate:"min=0"`
	MaxSubmissions int                `db:"max_submissions" json:"max_submissions" validate:"min=0"`
}

// Exercise is the gradable learning object variant.
type Exercise struct {
	ID                       int64
	CategoryID               int64
	RoundID                  int64
	Name                     string
	MaxPoints                int
	PointsToPass             int
	MaxSubmissionsPerStudent int // 0 = unlimited
}

// Chapter holds content only and never takes part in grading.
type Chapter struct {
	ID         int64
	CategoryID int64
	RoundID    int64
	Name       string
}

func (lo LearningObject) Exercise() (Exercise, bool) {
	if lo.Kind != KindExercise {
		return Exercise{}, false
	}
	return Exercise{
		ID:                       lo.ID,
		CategoryID:               lo.CategoryID,
		RoundID:                  lo.RoundID,
		Name:                     lo.Name,
		MaxPoints:                lo.MaxPoints,
		PointsToPass:             lo.PointsToPass,
		MaxSubmissionsPerStudent: lo.MaxSubmissions,
	}, true
}

func (lo LearningObject) Chapter() (Chapter, bool) {
	if lo.Kind != KindChapter {
		return Chapter{}, false
	}
	return Chapter{ID: lo.ID, CategoryID: lo.CategoryID, RoundID: lo.RoundID, Name: lo.Name}, true
}

func (lo *LearningObject) Validate() error {
	validate := validator.New()
	if err := validate.Struct(lo); err != nil {
		return err
	}
	if lo.PointsToPass > lo.MaxPoints {
		return fmt.Errorf("points to pass %d exceed max points %d", lo.PointsToPass, lo.MaxPoints)
	}
	return nil
}

// ExerciseObject builds the learning object row for an exercise.
func ExerciseObject(ex Exercise) LearningObject {
	return LearningObject{
		ID:             ex.ID,
		Kind:           KindExercise,
		CategoryID:     ex.CategoryID,
		RoundID:        ex.RoundID,
		Name:           ex.Name,
		MaxPoints:      ex.MaxPoints,
		PointsToPass:   ex.PointsToPass,
		MaxSubmissions: ex.MaxSubmissionsPerStudent,
	}
}
