package models

import "time"

// MasteryThreshold is the consecutive-correct streak at which a question
// counts as mastered.
const MasteryThreshold = 3

type QuestionStats struct {
	AttemptCount       int        `json:"attempt_count"`
	ConsecutiveCorrect int        `json:"consecutive_correct"`
	WrongCount         int        `json:"wrong_count"`
	LastAttemptedAt    *time.Time `json:"last_attempted_at,omitempty"`
}

type MasteryStatus string

const (
	StatusNew      MasteryStatus = "new"
	StatusLearning MasteryStatus = "learning"
	StatusMastered MasteryStatus = "mastered"
)

func (s QuestionStats) Mastered() bool {
	return s.ConsecutiveCorrect >= MasteryThreshold
}

func (s QuestionStats) Status() MasteryStatus {
	switch {
	case s.AttemptCount == 0:
		return StatusNew
	case s.Mastered():
		return StatusMastered
	default:
		return StatusLearning
	}
}
