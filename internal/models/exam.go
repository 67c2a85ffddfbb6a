package models

import (
	"encoding/json"
	"time"
)

type ExamStatus string

const (
	ExamDraft      ExamStatus = "draft"
	ExamInProgress ExamStatus = "in_progress"
	ExamCompleted  ExamStatus = "completed"
)

type ScoreMode string

const (
	ScoreAuto   ScoreMode = "auto"
	ScoreByType ScoreMode = "by_type"
)

// ── Core Structs ───────────────────────────────────────

type Exam struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SubjectID        string     `json:"subject_id"`
	Title            string     `json:"title"`
	TopicIDs         []string   `json:"topic_ids,omitempty"`
	UnitIDs          []string   `json:"unit_ids,omitempty"`
	ScoreMode        ScoreMode  `json:"score_mode"`
	TotalScore       int        `json:"total_score"`
	QuestionCount    int        `json:"question_count"`
	Status           ExamStatus `json:"status"`
	ShuffleSeed      int64      `json:"-"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	EarnedScore      *int       `json:"earned_score,omitempty"`
	CorrectCount     *int       `json:"correct_count,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ExamAnswerSlot is one top-level paper entry. For a group, Score is the
// group total and UserAnswer is an object of child id -> raw answer.
type ExamAnswerSlot struct {
	ID               string          `json:"id"`
	ExamID           string          `json:"exam_id"`
	QuestionID       string          `json:"question_id"`
	Order            int             `json:"order"`
	Score            int             `json:"score"`
	UserAnswer       json.RawMessage `json:"user_answer,omitempty"`
	NormalizedAnswer json.RawMessage `json:"normalized_answer,omitempty"`
	IsCorrect        *bool           `json:"is_correct,omitempty"`
	EarnedScore      *int            `json:"earned_score,omitempty"`
}

// ── Request Types ─────────────────────────────────────

// TypeRequest asks for Count top-level questions of one kind, optionally
// restricted to one difficulty. Score is the per-question score used in
// by_type mode.
type TypeRequest struct {
	Kind       Kind       `json:"kind"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Count      int        `json:"count"`
	Score      int        `json:"score,omitempty"`
}

type ComposeExamRequest struct {
	SubjectID  string        `json:"subject_id"`
	TopicIDs   []string      `json:"topic_ids,omitempty"`
	UnitIDs    []string      `json:"unit_ids,omitempty"`
	Title      string        `json:"title,omitempty"`
	Requests   []TypeRequest `json:"requests"`
	ScoreMode  ScoreMode     `json:"score_mode"`
	TotalScore int           `json:"total_score"`
}

// ExamAnswersRequest carries raw answers keyed by top-level question id.
type ExamAnswersRequest struct {
	Answers          map[string]json.RawMessage `json:"answers"`
	TimeSpentSeconds *int                       `json:"time_spent_seconds,omitempty"`
}

// ── Response Types ────────────────────────────────────

type PaperQuestion struct {
	QuestionID    string          `json:"question_id"`
	Kind          Kind            `json:"kind"`
	Content       string          `json:"content"`
	Difficulty    Difficulty      `json:"difficulty"`
	IsGroup       bool            `json:"is_group"`
	Order         int             `json:"order"`
	Options       []Option        `json:"options,omitempty"`
	Score         int             `json:"score"`
	UserAnswer    json.RawMessage `json:"user_answer,omitempty"`
	IsCorrect     *bool           `json:"is_correct,omitempty"`
	EarnedScore   *int            `json:"earned_score,omitempty"`
	CorrectAnswer string          `json:"correct_answer,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
	Children      []PaperQuestion `json:"children,omitempty"`
}

type ExamPaper struct {
	Exam      Exam            `json:"exam"`
	Questions []PaperQuestion `json:"questions"`
}

type ExamListResponse struct {
	Exams []Exam `json:"exams"`
	Total int    `json:"total"`
}
