package scoring

import "github.com/shrimpsizemoose/semla/internal/models"

type Lateness int

const (
	OnTime Lateness = iota
	LateWithPenalty
	LateRejected // gains zero points
)

func (l Lateness) String() string {
	switch l {
	case OnTime:
		return "on_time"
	case LateWithPenalty:
		return "late"
	default:
		return "rejected"
	}
}

// Classify checks a submission time against the round closing time. The deviation,
// if any, replaces the round rules for submissions within its new deadline.
func Classify(submissionTime int64, round models.Round, deviation *models.DeadlineDeviation) Lateness {
	if submissionTime <= round.ClosingTime {
		return OnTime
	}

	if deviation != nil && submissionTime <= deviation.NewDeadline {
		if deviation.UseLatePenalty {
			return LateWithPenalty
		}
		return OnTime
	}

	if round.IsLateSubmissionOpen(submissionTime) {
		return LateWithPenalty
	}

	return LateRejected
}
