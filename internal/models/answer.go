package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Answer is the stored correct answer of a leaf question. The concrete type
// is determined by the question kind: ChoiceAnswer for single/multiple
// choice, BoolAnswer for true_false, TextAnswer for free-text kinds.
type Answer interface {
	answerKind() string
}

type ChoiceAnswer struct {
	Keys []string
}

type BoolAnswer struct {
	Value bool
}

type TextAnswer struct {
	Text string
}

func (ChoiceAnswer) answerKind() string { return "choice" }
func (BoolAnswer) answerKind() string   { return "bool" }
func (TextAnswer) answerKind() string   { return "text" }

var errAnswerShape = errors.New("answer does not match question kind")

type answerEnvelope struct {
	Correct json.RawMessage `json:"correct,omitempty"`
	Text    *string         `json:"text,omitempty"`
}

// ParseAnswer decodes the stored payload ({"correct": ...} or {"text": ...})
// for a question of the given kind.
func ParseAnswer(kind Kind, raw json.RawMessage) (Answer, error) {
	var env answerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	switch {
	case kind.IsChoice():
		if len(env.Correct) == 0 {
			return nil, errAnswerShape
		}
		var one string
		if err := json.Unmarshal(env.Correct, &one); err == nil {
			return ChoiceAnswer{Keys: []string{one}}, nil
		}
		var many []string
		if err := json.Unmarshal(env.Correct, &many); err != nil {
			return nil, errAnswerShape
		}
		return ChoiceAnswer{Keys: many}, nil
	case kind == KindTrueFalse:
		var v bool
		if len(env.Correct) == 0 || json.Unmarshal(env.Correct, &v) != nil {
			return nil, errAnswerShape
		}
		return BoolAnswer{Value: v}, nil
	case kind.IsText():
		if env.Text == nil {
			return nil, errAnswerShape
		}
		return TextAnswer{Text: *env.Text}, nil
	}
	return nil, fmt.Errorf("unknown question kind %q", kind)
}

// MarshalAnswer encodes an answer in its stored form.
func MarshalAnswer(a Answer) (json.RawMessage, error) {
	switch v := a.(type) {
	case ChoiceAnswer:
		if len(v.Keys) == 1 {
			return json.Marshal(map[string]string{"correct": v.Keys[0]})
		}
		return json.Marshal(map[string][]string{"correct": v.Keys})
	case BoolAnswer:
		return json.Marshal(map[string]bool{"correct": v.Value})
	case TextAnswer:
		return json.Marshal(map[string]string{"text": v.Text})
	case nil:
		return json.RawMessage("{}"), nil
	}
	return nil, fmt.Errorf("unsupported answer type %T", a)
}
