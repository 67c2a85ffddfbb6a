package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindSingleChoice   Kind = "single_choice"
	KindMultipleChoice Kind = "multiple_choice"
	KindTrueFalse      Kind = "true_false"
	KindFillInBlank    Kind = "fill_in_blank"
	KindShortAnswer    Kind = "short_answer"
	KindEssay          Kind = "essay"
)

var ValidKinds = map[Kind]bool{
	KindSingleChoice:   true,
	KindMultipleChoice: true,
	KindTrueFalse:      true,
	KindFillInBlank:    true,
	KindShortAnswer:    true,
	KindEssay:          true,
}

// IsChoice reports whether answers of this kind are option keys.
func (k Kind) IsChoice() bool {
	return k == KindSingleChoice || k == KindMultipleChoice
}

// IsText reports whether answers of this kind are compared as free text.
func (k Kind) IsText() bool {
	return k == KindFillInBlank || k == KindShortAnswer || k == KindEssay
}

type Difficulty string

const (
	DifficultyBasic    Difficulty = "basic"
	DifficultyAdvanced Difficulty = "advanced"
)

var ValidDifficulties = map[Difficulty]bool{
	DifficultyBasic:    true,
	DifficultyAdvanced: true,
}

// MaxOptions is the size of the display alphabet (A..F).
const MaxOptions = 6

// ── Core Structs ───────────────────────────────────────

type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is either a leaf (standalone or child of a group) or a group
// container. Only leaves carry options and an answer.
type Question struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	TopicID     *string    `json:"topic_id,omitempty"`
	UnitID      *string    `json:"unit_id,omitempty"`
	Kind        Kind       `json:"kind"`
	Content     string     `json:"content"`
	Options     []Option   `json:"options,omitempty"`
	Answer      Answer     `json:"-"`
	Explanation string     `json:"explanation,omitempty"`
	Difficulty  Difficulty `json:"difficulty"`
	IsGroup     bool       `json:"is_group"`
	ParentID    *string    `json:"parent_id,omitempty"`
	Order       int        `json:"order"`
	Children    []Question `json:"children,omitempty"`

	QuestionStats
	CreatedAt time.Time `json:"created_at"`
}

// Leaves returns the answerable questions under q: its children for a
// group, otherwise q itself.
func (q Question) Leaves() []Question {
	if q.IsGroup {
		return q.Children
	}
	return []Question{q}
}

// LeafCount is the number of answerable questions q contributes to a paper.
func (q Question) LeafCount() int {
	if q.IsGroup {
		return len(q.Children)
	}
	return 1
}

type questionJSON Question

type questionWire struct {
	questionJSON
	Answer json.RawMessage `json:"answer,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{questionJSON: questionJSON(q)}
	if q.Answer != nil {
		raw, err := MarshalAnswer(q.Answer)
		if err != nil {
			return nil, err
		}
		w.Answer = raw
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = Question(w.questionJSON)
	if len(w.Answer) > 0 && string(w.Answer) != "null" {
		a, err := ParseAnswer(q.Kind, w.Answer)
		if err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
		q.Answer = a
	}
	return nil
}

// WithoutAnswer returns a copy safe to serve before grading.
func (q Question) WithoutAnswer() Question {
	q.Answer = nil
	q.Explanation = ""
	if len(q.Children) > 0 {
		children := make([]Question, len(q.Children))
		for i, c := range q.Children {
			children[i] = c.WithoutAnswer()
		}
		q.Children = children
	}
	return q
}

// ── Query Types ───────────────────────────────────────

// QuestionFilter selects top-level questions from the pool. UnitIDs takes
// precedence over TopicIDs; with neither set the whole subject matches.
type QuestionFilter struct {
	SubjectID  string
	TopicIDs   []string
	UnitIDs    []string
	Kind       Kind
	Difficulty Difficulty
}

// Scope is a validated subject/topic/unit selection. Selecting topics
// selects every unit in them.
type Scope struct {
	SubjectID string   `json:"subject_id"`
	TopicIDs  []string `json:"topic_ids,omitempty"`
	UnitIDs   []string `json:"unit_ids,omitempty"`
}

func (s Scope) Filter() QuestionFilter {
	f := QuestionFilter{SubjectID: s.SubjectID}
	if len(s.UnitIDs) > 0 {
		f.UnitIDs = s.UnitIDs
	} else {
		f.TopicIDs = s.TopicIDs
	}
	return f
}

// ── Request / Response Types ──────────────────────────

type CreateQuestionRequest struct {
	SubjectID   string                  `json:"subject_id"`
	TopicID     *string                 `json:"topic_id,omitempty"`
	UnitID      *string                 `json:"unit_id,omitempty"`
	Kind        Kind                    `json:"kind"`
	Content     string                  `json:"content"`
	Options     []Option                `json:"options,omitempty"`
	Answer      json.RawMessage         `json:"answer,omitempty"`
	Explanation string                  `json:"explanation,omitempty"`
	Difficulty  Difficulty              `json:"difficulty"`
	IsGroup     bool                    `json:"is_group"`
	Children    []CreateQuestionRequest `json:"children,omitempty"`
}

type QuestionListResponse struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
}
