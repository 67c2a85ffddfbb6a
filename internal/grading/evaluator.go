// Package grading evaluates submitted answers against a question's stored
// answer. Evaluation never fails: malformed or missing input is incorrect.
package grading

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/studytrack/backend/internal/models"
)

// Verdict is the outcome of evaluating one leaf answer. Normalized is the
// canonical stored form: sorted original keys joined by commas for choice
// kinds, "true"/"false" for true_false, trimmed lowercase text otherwise.
type Verdict struct {
	IsCorrect  bool   `json:"is_correct"`
	Normalized string `json:"normalized"`
}

// Strategy evaluates one kind of question. mapping is nil when the options
// were shown in their original order.
type Strategy interface {
	Evaluate(q models.Question, mapping *models.ShuffleMapping, raw any) Verdict
}

type Evaluator struct {
	strategies map[models.Kind]Strategy
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		strategies: map[models.Kind]Strategy{
			models.KindSingleChoice:   choiceStrategy{single: true},
			models.KindMultipleChoice: choiceStrategy{},
			models.KindTrueFalse:      trueFalseStrategy{},
			models.KindFillInBlank:    textStrategy{},
			models.KindShortAnswer:    textStrategy{},
			models.KindEssay:          textStrategy{},
		},
	}
}

// Evaluate grades raw against q. Group containers and unknown kinds are
// never correct.
func (e *Evaluator) Evaluate(q models.Question, mapping *models.ShuffleMapping, raw any) Verdict {
	if q.IsGroup || q.Answer == nil {
		return Verdict{Normalized: normalizedText(raw)}
	}
	s, ok := e.strategies[q.Kind]
	if !ok {
		return Verdict{Normalized: normalizedText(raw)}
	}
	return s.Evaluate(q, mapping, raw)
}

// ── Choice ────────────────────────────────────────────

type choiceStrategy struct{ single bool }

func (s choiceStrategy) Evaluate(q models.Question, mapping *models.ShuffleMapping, raw any) Verdict {
	want, ok := q.Answer.(models.ChoiceAnswer)
	if !ok {
		return Verdict{}
	}
	selected := splitSelection(raw, mapping != nil)
	if len(selected) == 0 {
		return Verdict{}
	}

	got := make(map[string]bool, len(selected))
	mapped := true
	for _, key := range selected {
		orig := key
		if mapping != nil {
			var found bool
			orig, found = mapping.ToOriginal(key)
			if !found {
				mapped = false
				continue
			}
		}
		got[strings.ToUpper(strings.TrimSpace(orig))] = true
	}

	normalized := joinSorted(got)
	if !mapped || (s.single && len(got) != 1) {
		return Verdict{Normalized: normalized}
	}

	expected := make(map[string]bool, len(want.Keys))
	for _, k := range want.Keys {
		expected[strings.ToUpper(strings.TrimSpace(k))] = true
	}
	return Verdict{IsCorrect: sameSet(got, expected), Normalized: normalized}
}

// splitSelection flattens a raw selection into keys. A compact string such
// as "AC" is split per letter when display keys are in use.
func splitSelection(raw any, displayKeys bool) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	default:
		return nil
	}

	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if displayKeys && len(parts) == 1 && len(p) > 1 && !strings.ContainsAny(p, " ") {
			for _, r := range p {
				out = append(out, string(r))
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func joinSorted(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// ── True / False ──────────────────────────────────────

var trueFalseSynonyms = map[string]bool{
	"true": true, "o": true, "是": true, "1": true, "○": true,
	"false": false, "x": false, "否": false, "0": false, "✕": false,
}

// ParseTrueFalse maps a raw true_false answer onto a boolean.
func ParseTrueFalse(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, ok := trueFalseSynonyms[strings.ToLower(strings.TrimSpace(v))]
		return b, ok
	case float64:
		if v == 1 || v == 0 {
			return v == 1, true
		}
	}
	return false, false
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Evaluate(q models.Question, _ *models.ShuffleMapping, raw any) Verdict {
	want, ok := q.Answer.(models.BoolAnswer)
	if !ok {
		return Verdict{}
	}
	got, ok := ParseTrueFalse(raw)
	if !ok {
		return Verdict{Normalized: normalizedText(raw)}
	}
	return Verdict{IsCorrect: got == want.Value, Normalized: fmt.Sprintf("%t", got)}
}

// ── Free Text ─────────────────────────────────────────

type textStrategy struct{}

func (textStrategy) Evaluate(q models.Question, _ *models.ShuffleMapping, raw any) Verdict {
	want, ok := q.Answer.(models.TextAnswer)
	if !ok {
		return Verdict{}
	}
	got := normalizedText(raw)
	if got == "" {
		return Verdict{}
	}
	return Verdict{IsCorrect: got == normalize(want.Text), Normalized: got}
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func normalizedText(raw any) string {
	switch v := raw.(type) {
	case string:
		return normalize(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ── Helpers ───────────────────────────────────────────

// DecodeRaw turns a stored JSON answer into the loosely typed value
// Evaluate accepts. Invalid or empty input decodes to nil.
func DecodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// CorrectDisplay renders q's correct answer the way the user saw the
// options: display keys for choice kinds.
func CorrectDisplay(q models.Question, mapping *models.ShuffleMapping) string {
	switch a := q.Answer.(type) {
	case models.ChoiceAnswer:
		set := make(map[string]bool, len(a.Keys))
		for _, k := range a.Keys {
			if mapping != nil {
				if d, ok := mapping.ToDisplay(k); ok {
					k = d
				}
			}
			set[strings.ToUpper(k)] = true
		}
		return joinSorted(set)
	case models.BoolAnswer:
		return fmt.Sprintf("%t", a.Value)
	case models.TextAnswer:
		return a.Text
	}
	return ""
}
