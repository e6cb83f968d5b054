package app

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/models"
	"github.com/shrimpsizemoose/semla/internal/store"
)

// Course describes the course structure loaded with migrate -seed.
// Learning objects refer to categories by name, deviations to exercises.
type Course struct {
	Categories []struct {
		Name         string `toml:"name"`
		PointsToPass int    `toml:"points_to_pass"`
	} `toml:"categories"`

	Rounds []struct {
		Name                   string  `toml:"name"`
		ClosingTime            int64   `toml:"closing_time"`
		LateSubmissionsAllowed bool    `toml:"late_submissions_allowed"`
		LateSubmissionDeadline int64   `toml:"late_submission_deadline"`
		LateSubmissionPenalty  float64 `toml:"late_submission_penalty"`

		Exercises []struct {
			Name           string `toml:"name"`
			Category       string `toml:"category"`
			MaxPoints      int    `toml:"max_points"`
			PointsToPass   int    `toml:"points_to_pass"`
			MaxSubmissions int    `toml:"max_submissions"`
		} `toml:"exercises"`

		Chapters []struct {
			Name     string `toml:"name"`
			Category string `toml:"category"`
		} `toml:"chapters"`
	} `toml:"rounds"`

	Deviations []struct {
		Exercise         string `toml:"exercise"`
		SubmitterID      int64  `toml:"submitter_id"`
		NewDeadline      int64  `toml:"new_deadline"`
		UseLatePenalty   bool   `toml:"use_late_penalty"`
		ExtraSubmissions int    `toml:"extra_submissions"`
	} `toml:"deviations"`
}

func LoadCourse(path string) (*Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading course file: %w", err)
	}
	var course Course
	if err := toml.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("error reading course file %s: %w", path, err)
	}
	return &course, nil
}

// SeedCourse validates and stores the course. It returns the ids of the
// created exercises by name.
func SeedCourse(ctx context.Context, st store.SubmissionStore, course *Course) (map[string]int64, error) {
	categories := make(map[string]int64)
	for _, c := range course.Categories {
		category := models.Category{Name: c.Name, PointsToPass: c.PointsToPass}
		if err := category.Validate(); err != nil {
			return nil, fmt.Errorf("category %q: %w", c.Name, err)
		}
		if err := st.CreateCategory(ctx, &category); err != nil {
			return nil, err
		}
		categories[c.Name] = category.ID
	}

	categoryID := func(name string) (int64, error) {
		id, ok := categories[name]
		if !ok {
			return 0, fmt.Errorf("unknown category %q", name)
		}
		return id, nil
	}

	exercises := make(map[string]int64)
	for _, r := range course.Rounds {
		round := models.Round{
			Name:                   r.Name,
			ClosingTime:            r.ClosingTime,
			LateSubmissionsAllowed: r.LateSubmissionsAllowed,
			LateSubmissionDeadline: r.LateSubmissionDeadline,
			LateSubmissionPenalty:  r.LateSubmissionPenalty,
		}
		if err := round.Validate(); err != nil {
			return nil, fmt.Errorf("round %q: %w", r.Name, err)
		}
		if err := st.CreateRound(ctx, &round); err != nil {
			return nil, err
		}

		for _, e := range r.Exercises {
			cid, err := categoryID(e.Category)
			if err != nil {
				return nil, fmt.Errorf("exercise %q: %w", e.Name, err)
			}
			lo := models.ExerciseObject(models.Exercise{
				CategoryID:               cid,
				RoundID:                  round.ID,
				Name:                     e.Name,
				MaxPoints:                e.MaxPoints,
				PointsToPass:             e.PointsToPass,
				MaxSubmissionsPerStudent: e.MaxSubmissions,
			})
			if err := lo.Validate(); err != nil {
				return nil, fmt.Errorf("exercise %q: %w", e.Name, err)
			}
			if err := st.CreateLearningObject(ctx, &lo); err != nil {
				return nil, err
			}
			exercises[e.Name] = lo.ID
		}

		for _, c := range r.Chapters {
			cid, err := categoryID(c.Category)
			if err != nil {
				return nil, fmt.Errorf("chapter %q: %w", c.Name, err)
			}
			lo := models.LearningObject{Kind: models.KindChapter, CategoryID: cid, RoundID: round.ID, Name: c.Name}
			if err := lo.Validate(); err != nil {
				return nil, fmt.Errorf("chapter %q: %w", c.Name, err)
			}
			if err := st.CreateLearningObject(ctx, &lo); err != nil {
				return nil, err
			}
		}
	}

	for _, d := range course.Deviations {
		exerciseID, ok := exercises[d.Exercise]
		if !ok {
			return nil, fmt.Errorf("deviation for unknown exercise %q", d.Exercise)
		}
		if d.NewDeadline != 0 {
			deviation := models.DeadlineDeviation{ExerciseID: exerciseID, SubmitterID: d.SubmitterID, NewDeadline: d.NewDeadline, UseLatePenalty: d.UseLatePenalty}
			if err := deviation.Validate(); err != nil {
				return nil, fmt.Errorf("deviation for %q: %w", d.Exercise, err)
			}
			if err := st.UpsertDeadlineDeviation(ctx, deviation); err != nil {
				return nil, err
			}
		}
		if d.ExtraSubmissions != 0 {
			deviation := models.SubmitLimitDeviation{ExerciseID: exerciseID, SubmitterID: d.SubmitterID, ExtraSubmissions: d.ExtraSubmissions}
			if err := deviation.Validate(); err != nil {
				return nil, fmt.Errorf("deviation for %q: %w", d.Exercise, err)
			}
			if err := st.UpsertSubmitLimitDeviation(ctx, deviation); err != nil {
				return nil, err
			}
		}
	}

	logger.Info.Printf("Seeded %d categories, %d rounds, %d exercises, %d deviations",
		len(course.Categories), len(course.Rounds), len(exercises), len(course.Deviations))
	return exercises, nil
}
