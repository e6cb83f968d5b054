package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type Status int

const (
	StatusInitialized Status = iota // not sent to the grading service
	StatusWaiting                   // sent for grading
	StatusReady                     // graded
	StatusError
	StatusRejected // missing fields etc.
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusRejected:
		return "rejected"
	default:
		return "undefined"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type PenaltyKind int

const (
	PenaltyNone PenaltyKind = iota
	PenaltyLate
	PenaltyRejected
)

// LatePenalty is the penalty applied when the submission was scored.
// It is stored as NULL (none), the ratio (late) or 1 (rejected).
type LatePenalty struct {
	Kind  PenaltyKind
	Ratio float64
}

func NoPenalty() LatePenalty { return LatePenalty{Kind: PenaltyNone} }

func LateRatio(ratio float64) LatePenalty { return LatePenalty{Kind: PenaltyLate, Ratio: ratio} }

func RejectedPenalty() LatePenalty { return LatePenalty{Kind: PenaltyRejected, Ratio: 1} }

// Applied returns the ratio and whether any penalty was applied.
func (p LatePenalty) Applied() (float64, bool) {
	if p.Kind == PenaltyNone {
		return 0, false
	}
	return p.Ratio, true
}

func (p LatePenalty) String() string {
	switch p.Kind {
	case PenaltyNone:
		return "none"
	case PenaltyRejected:
		return "rejected"
	default:
		return fmt.Sprintf("%g", p.Ratio)
	}
}

func (p LatePenalty) Value() (driver.Value, error) {
	ratio, ok := p.Applied()
	if !ok {
		return nil, nil
	}
	return ratio, nil
}

func (p *LatePenalty) Scan(src any) error {
	var ratio float64
	switch v := src.(type) {
	case nil:
		*p = NoPenalty()
		return nil
	case float64:
		ratio = v
	case int64:
		ratio = float64(v)
	case []byte:
		if _, err := fmt.Sscan(string(v), &ratio); err != nil {
			return fmt.Errorf("failed to scan late penalty %q: %w", v, err)
		}
	default:
		return fmt.Errorf("unsupported late penalty type %T", src)
	}
	if ratio == 1 {
		*p = RejectedPenalty()
	} else {
		*p = LateRatio(ratio)
	}
	return nil
}

func (p LatePenalty) MarshalJSON() ([]byte, error) {
	ratio, ok := p.Applied()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(ratio)
}

type Submission struct {
	ID                 int64       `db:"id" json:"id"`
	Hash               string      `db:"hash" json:"-"`
	ExerciseID         int64       `db:"exercise_id" json:"exercise_id"`
	SubmitterID        int64       `db:"submitter_id" json:"submitter_id"`
	SubmissionTime     int64       `db:"submission_time" json:"submission_time"`
	Status             Status      `db:"status" json:"status"`
	ServicePoints      int         `db:"service_points" json:"service_points"`
	ServiceMaxPoints   int         `db:"service_max_points" json:"service_max_points"`
	Grade              int         `db:"grade" json:"grade"`
	LatePenaltyApplied LatePenalty `db:"late_penalty_applied" json:"late_penalty_applied"`
	GraderID           *int64      `db:"grader_id" json:"grader_id,omitempty"`
	GradingTime        *int64      `db:"grading_time" json:"grading_time,omitempty"`
	Feedback           string      `db:"feedback" json:"feedback"`
	AssistantFeedback  string      `db:"assistant_feedback" json:"assistant_feedback"`
	SubmissionData     Document    `db:"submission_data" json:"submission_data"`
	GradingData        Document    `db:"grading_data" json:"grading_data"`
}

func (s *Submission) IsGraded() bool {
	return s.Status == StatusReady
}

// GradeValue returns the grade only for graded submissions.
func (s *Submission) GradeValue() (int, bool) {
	if !s.IsGraded() {
		return 0, false
	}
	return s.Grade, true
}

// ModifiedBy is the grader of a manually graded submission, otherwise the submitter.
func (s *Submission) ModifiedBy() int64 {
	if s.GraderID != nil {
		return *s.GraderID
	}
	return s.SubmitterID
}

// GradingDataErrors returns grading_data.errors of the grading document, or ""
// when the grader reported none. grading_data may itself be a JSON string.
func (s *Submission) GradingDataErrors() string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(s.GradingData, &outer); err != nil {
		return ""
	}
	inner, ok := outer["grading_data"]
	if !ok {
		return ""
	}

	var encoded string
	if err := json.Unmarshal(inner, &encoded); err == nil {
		inner = json.RawMessage(encoded)
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(inner, &data); err != nil {
		return ""
	}
	raw, ok := data["errors"]
	if !ok || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
