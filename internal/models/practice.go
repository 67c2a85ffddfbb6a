package models

import "time"

type PracticeMode string

const (
	PracticeAll      PracticeMode = "all"
	PracticeNew      PracticeMode = "new"
	PracticeMistakes PracticeMode = "mistakes"
	PracticeReview   PracticeMode = "review"
)

var ValidPracticeModes = map[PracticeMode]bool{
	PracticeAll:      true,
	PracticeNew:      true,
	PracticeMistakes: true,
	PracticeReview:   true,
}

// SkippedAnswer is recorded for an item the user skipped.
const SkippedAnswer = "(skipped)"

// ── Session State ─────────────────────────────────────

// PracticeItem is one sampled top-level question with the shuffle mappings
// of its leaves for the current run.
type PracticeItem struct {
	Question Question                  `json:"question"`
	Shuffles map[string]ShuffleMapping `json:"shuffles,omitempty"`
}

type PracticeResult struct {
	QuestionID string    `json:"question_id"`
	ParentID   *string   `json:"parent_id,omitempty"`
	UserAnswer string    `json:"user_answer"`
	IsCorrect  bool      `json:"is_correct"`
	Skipped    bool      `json:"skipped,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}

// PracticeSession is the full, serialisable state of one practice run.
// Version counts saves; a store rejects a save whose version is stale.
type PracticeSession struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Scope      Scope            `json:"scope"`
	Mode       PracticeMode     `json:"mode"`
	Difficulty Difficulty       `json:"difficulty,omitempty"`
	Kind       Kind             `json:"kind,omitempty"`
	Items      []PracticeItem   `json:"items"`
	ItemIndex  int              `json:"item_index"`
	ChildIndex int              `json:"child_index"`
	Results    []PracticeResult `json:"results"`
	Completed  bool             `json:"completed"`
	Version    int              `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ── Request / Response Types ──────────────────────────

// StartPracticeRequest selects the questions of a practice run. SampleSize
// caps the draw at min(SampleSize, available); 0 draws every matching
// question and negative values are rejected.
type StartPracticeRequest struct {
	SubjectID  string       `json:"subject_id"`
	TopicIDs   []string     `json:"topic_ids,omitempty"`
	UnitIDs    []string     `json:"unit_ids,omitempty"`
	Mode       PracticeMode `json:"mode"`
	Difficulty Difficulty   `json:"difficulty,omitempty"`
	Kind       Kind         `json:"kind,omitempty"`
	SampleSize int          `json:"sample_size"`
}

type PracticeAnswerRequest struct {
	Answer any `json:"answer"`
}

// PracticeView is what the client renders for the current position.
type PracticeView struct {
	SessionID  string          `json:"session_id"`
	Completed  bool            `json:"completed"`
	Position   int             `json:"position"`
	Total      int             `json:"total"`
	Group      *PracticePrompt `json:"group,omitempty"`
	Question   *PracticePrompt `json:"question,omitempty"`
	ChildIndex int             `json:"child_index"`
	ChildCount int             `json:"child_count"`
	Answered   *PracticeResult `json:"answered,omitempty"`
}

type PracticePrompt struct {
	QuestionID string        `json:"question_id"`
	Kind       Kind          `json:"kind"`
	Content    string        `json:"content"`
	Difficulty Difficulty    `json:"difficulty"`
	Options    []Option      `json:"options,omitempty"`
	Status     MasteryStatus `json:"status"`
}

type PracticeFeedback struct {
	QuestionID    string `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
	Last          bool   `json:"last"`
}

type PracticeSummary struct {
	SessionID    string           `json:"session_id"`
	Count        int              `json:"count"`
	CorrectCount int              `json:"correct_count"`
	Accuracy     float64          `json:"accuracy"`
	Completed    bool             `json:"completed"`
	Results      []PracticeResult `json:"results"`
}
