package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/models"
)

type SubmissionStore interface {
	Close() error
	ApplyMigrations(dir string) error

	CreateCategory(ctx context.Context, category *models.Category) error
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	CreateRound(ctx context.Context, round *models.Round) error
	GetRound(ctx context.Context, id int64) (*models.Round, error)
	CreateLearningObject(ctx context.Context, lo *models.LearningObject) error
	GetLearningObject(ctx context.Context, id int64) (*models.LearningObject, error)
	ListCategoryObjects(ctx context.Context, categoryID int64) ([]models.LearningObject, error)

	UpsertDeadlineDeviation(ctx context.Context, deviation models.DeadlineDeviation) error
	GetDeadlineDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.DeadlineDeviation, error)
	UpsertSubmitLimitDeviation(ctx context.Context, deviation models.SubmitLimitDeviation) error
	GetSubmitLimitDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.SubmitLimitDeviation, error)

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id int64) (*models.Submission, error)
	UpdateSubmission(ctx context.Context, sub *models.Submission) error
	DeleteSubmission(ctx context.Context, id int64) error
	ListSubmissions(ctx context.Context, exerciseID, submitterID int64) ([]models.Submission, error)
	CountSubmissionsUpTo(ctx context.Context, exerciseID, submitterID, atOrBefore, excludingID int64) (int, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Debug.Printf("Applying migration: %s", file.Name())
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) insertReturningID(ctx context.Context, query string, arg any) (int64, error) {
	rows, err := s.DB.NamedQueryContext(ctx, query, arg)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var id int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("insert returned no id")
	}
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *BaseStore) CreateCategory(ctx context.Context, category *models.Category) error {
	id, err := s.insertReturningID(ctx, `
		INSERT INTO categories (name, points_to_pass)
		VALUES (:name, :points_to_pass)
		RETURNING id
	`, category)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	category.ID = id
	return nil
}

func (s *BaseStore) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	query := s.Converter(`SELECT id, name, points_to_pass FROM categories WHERE id = ?`)
	err := s.DB.GetContext(ctx, &category, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &category, nil
}

func (s *BaseStore) CreateRound(ctx context.Context, round *models.Round) error {
	id, err := s.insertReturningID(ctx, `
		INSERT INTO rounds (name, closing_time, late_submissions_allowed, late_submission_deadline, late_submission_penalty)
		VALUES (:name, :closing_time, :late_submissions_allowed, :late_submission_deadline, :late_submission_penalty)
		RETURNING id
	`, round)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	round.ID = id
	return nil
}

func (s *BaseStore) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	var round models.Round
	query := s.Converter(`
		SELECT id, name, closing_time, late_submissions_allowed, late_submission_deadline, late_submission_penalty
		FROM rounds
		WHERE id = ?
	`)
	err := s.DB.GetContext(ctx, &round, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return &round, nil
}

const learningObjectColumns = `id, kind, category_id, round_id, name, max_points, points_to_pass, max_submissions`

func (s *BaseStore) CreateLearningObject(ctx context.Context, lo *models.LearningObject) error {
	id, err := s.insertReturningID(ctx, `
		INSERT INTO learning_objects (kind, category_id, round_id, name, max_points, points_to_pass, max_submissions)
		VALUES (:kind, :category_id, :round_id, :name, :max_points, :points_to_pass, :max_submissions)
		RETURNING id
	`, lo)
	if err != nil {
		return fmt.Errorf("failed to create learning object: %w", err)
	}
	lo.ID = id
	return nil
}

func (s *BaseStore) GetLearningObject(ctx context.Context, id int64) (*models.LearningObject, error) {
	var lo models.LearningObject
	query := s.Converter(`SELECT ` + learningObjectColumns + ` FROM learning_objects WHERE id = ?`)
	err := s.DB.GetContext(ctx, &lo, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("learning object %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get learning object: %w", err)
	}
	return &lo, nil
}

func (s *BaseStore) ListCategoryObjects(ctx context.Context, categoryID int64) ([]models.LearningObject, error) {
	var objects []models.LearningObject
	query := s.Converter(`
		SELECT ` + learningObjectColumns + `
		FROM learning_objects
		WHERE category_id = ?
		ORDER BY id ASC
	`)
	if err := s.DB.SelectContext(ctx, &objects, query, categoryID); err != nil {
		return nil, fmt.Errorf("failed to list learning objects: %w", err)
	}
	return objects, nil
}

func (s *BaseStore) UpsertDeadlineDeviation(ctx context.Context, deviation models.DeadlineDeviation) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO deadline_deviations (exercise_id, submitter_id, new_deadline, use_late_penalty)
		VALUES (:exercise_id, :submitter_id, :new_deadline, :use_late_penalty)
		ON CONFLICT (exercise_id, submitter_id) DO UPDATE SET
		new_deadline = excluded.new_deadline,
		use_late_penalty = excluded.use_late_penalty
	`, deviation)
	if err != nil {
		return fmt.Errorf("failed to upsert deadline deviation: %w", err)
	}
	return nil
}

func (s *BaseStore) GetDeadlineDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.DeadlineDeviation, error) {
	var deviation models.DeadlineDeviation
	query := s.Converter(`
		SELECT exercise_id, submitter_id, new_deadline, use_late_penalty
		FROM deadline_deviations
		WHERE exercise_id = ?
		AND submitter_id = ?
	`)
	err := s.DB.GetContext(ctx, &deviation, query, exerciseID, submitterID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deadline deviation: %w", err)
	}
	return &deviation, nil
}

func (s *BaseStore) UpsertSubmitLimitDeviation(ctx context.Context, deviation models.SubmitLimitDeviation) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO submit_limit_deviations (exercise_id, submitter_id, extra_submissions)
		VALUES (:exercise_id, :submitter_id, :extra_submissions)
		ON CONFLICT (exercise_id, submitter_id) DO UPDATE SET
		extra_submissions = excluded.extra_submissions
	`, deviation)
	if err != nil {
		return fmt.Errorf("failed to upsert submit limit deviation: %w", err)
	}
	return nil
}

func (s *BaseStore) GetSubmitLimitDeviation(ctx context.Context, exerciseID, submitterID int64) (*models.SubmitLimitDeviation, error) {
	var deviation models.SubmitLimitDeviation
	query := s.Converter(`
		SELECT exercise_id, submitter_id, extra_submissions
		FROM submit_limit_deviations
		WHERE exercise_id = ?
		AND submitter_id = ?
	`)
	err := s.DB.GetContext(ctx, &deviation, query, exerciseID, submitterID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submit limit deviation: %w", err)
	}
	return &deviation, nil
}

const submissionColumns = `
	id, hash, exercise_id, submitter_id, submission_time, status,
	service_points, service_max_points, grade, late_penalty_applied,
	grader_id, grading_time, feedback, assistant_feedback,
	submission_data, grading_data`

func (s *BaseStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	id, err := s.insertReturningID(ctx, `
		INSERT INTO submissions (
			hash, exercise_id, submitter_id, submission_time, status,
			service_points, service_max_points, grade, late_penalty_applied,
			grader_id, grading_time, feedback, assistant_feedback,
			submission_data, grading_data
		) VALUES (
			:hash, :exercise_id, :submitter_id, :submission_time, :status,
			:service_points, :service_max_points, :grade, :late_penalty_applied,
			:grader_id, :grading_time, :feedback, :assistant_feedback,
			:submission_data, :grading_data
		)
		RETURNING id
	`, sub)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	sub.ID = id
	return nil
}

func (s *BaseStore) GetSubmission(ctx context.Context, id int64) (*models.Submission, error) {
	var sub models.Submission
	query := s.Converter(`SELECT ` + submissionColumns + ` FROM submissions WHERE id = ?`)
	err := s.DB.GetContext(ctx, &sub, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}

// UpdateSubmission writes the mutable grading fields. Submission time,
// exercise and submitter never change after creation.
func (s *BaseStore) UpdateSubmission(ctx context.Context, sub *models.Submission) error {
	res, err := s.DB.NamedExecContext(ctx, `
		UPDATE submissions SET
			status = :status,
			service_points = :service_points,
			service_max_points = :service_max_points,
			grade = :grade,
			late_penalty_applied = :late_penalty_applied,
			grader_id = :grader_id,
			grading_time = :grading_time,
			feedback = :feedback,
			assistant_feedback = :assistant_feedback,
			grading_data = :grading_data
		WHERE id = :id
	`, sub)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return expectOneRow(res, "submission", sub.ID)
}

func (s *BaseStore) DeleteSubmission(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, s.Converter(`DELETE FROM submissions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return expectOneRow(res, "submission", id)
}

func (s *BaseStore) ListSubmissions(ctx context.Context, exerciseID, submitterID int64) ([]models.Submission, error) {
	var subs []models.Submission
	query := s.Converter(`
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE exercise_id = ?
		AND submitter_id = ?
		ORDER BY submission_time ASC, id ASC
	`)
	if err := s.DB.SelectContext(ctx, &subs, query, exerciseID, submitterID); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

func (s *BaseStore) CountSubmissionsUpTo(ctx context.Context, exerciseID, submitterID, atOrBefore, excludingID int64) (int, error) {
	var count int
	query := s.Converter(`
		SELECT COUNT(id)
		FROM submissions
		WHERE exercise_id = ?
		AND submitter_id = ?
		AND submission_time <= ?
		AND id <> ?
	`)
	if err := s.DB.GetContext(ctx, &count, query, exerciseID, submitterID, atOrBefore, excludingID); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
