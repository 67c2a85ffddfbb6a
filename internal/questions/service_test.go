package questions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/database/dbtest"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

func choiceReq(kind models.Kind, answer string, keys ...string) models.CreateQuestionRequest {
	req := models.CreateQuestionRequest{SubjectID: "s1", Kind: kind, Content: "Which?", Answer: json.RawMessage(answer)}
	for _, k := range keys {
		req.Options = append(req.Options, models.Option{Key: k, Text: "option " + k})
	}
	return req
}

func TestBuildQuestion(t *testing.T) {
	tfChild := models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "Is it?", Answer: json.RawMessage(`{"correct": false}`)}

	tests := []struct {
		name    string
		req     models.CreateQuestionRequest
		wantErr bool
	}{
		{"single choice", choiceReq(models.KindSingleChoice, `{"correct": "B"}`, "A", "B", "C"), false},
		{"multiple choice", choiceReq(models.KindMultipleChoice, `{"correct": ["A", "C"]}`, "A", "B", "C"), false},
		{"single choice with two keys", choiceReq(models.KindSingleChoice, `{"correct": ["A", "B"]}`, "A", "B"), true},
		{"one option", choiceReq(models.KindSingleChoice, `{"correct": "A"}`, "A"), true},
		{"seven options", choiceReq(models.KindSingleChoice, `{"correct": "A"}`, "A", "B", "C", "D", "E", "F", "G"), true},
		{"duplicate keys", choiceReq(models.KindSingleChoice, `{"correct": "A"}`, "A", "a"), true},
		{"answer not an option", choiceReq(models.KindSingleChoice, `{"correct": "D"}`, "A", "B"), true},
		{"true_false", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "x", Answer: json.RawMessage(`{"correct": true}`)}, false},
		{"true_false with text", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "x", Answer: json.RawMessage(`{"correct": "yes"}`)}, true},
		{"true_false with options", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "x",
			Answer: json.RawMessage(`{"correct": true}`), Options: []models.Option{{Key: "A"}, {Key: "B"}}}, true},
		{"fill in blank", models.CreateQuestionRequest{Kind: models.KindFillInBlank, Content: "x", Answer: json.RawMessage(`{"text": "Paris"}`)}, false},
		{"blank text answer", models.CreateQuestionRequest{Kind: models.KindShortAnswer, Content: "x", Answer: json.RawMessage(`{"text": "  "}`)}, true},
		{"missing answer", models.CreateQuestionRequest{Kind: models.KindEssay, Content: "x"}, true},
		{"unknown kind", models.CreateQuestionRequest{Kind: "matching", Content: "x", Answer: json.RawMessage(`{"text": "a"}`)}, true},
		{"bad difficulty", models.CreateQuestionRequest{Kind: models.KindEssay, Content: "x", Difficulty: "hard", Answer: json.RawMessage(`{"text": "a"}`)}, true},
		{"empty content", models.CreateQuestionRequest{Kind: models.KindEssay, Content: " ", Answer: json.RawMessage(`{"text": "a"}`)}, true},
		{"group", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "passage", IsGroup: true,
			Children: []models.CreateQuestionRequest{tfChild, tfChild}}, false},
		{"empty group", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "passage", IsGroup: true}, true},
		{"group with answer", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "passage", IsGroup: true,
			Answer: json.RawMessage(`{"correct": true}`), Children: []models.CreateQuestionRequest{tfChild}}, true},
		{"nested group", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "passage", IsGroup: true,
			Children: []models.CreateQuestionRequest{{Kind: models.KindTrueFalse, Content: "inner", IsGroup: true,
				Children: []models.CreateQuestionRequest{tfChild}}}}, true},
		{"leaf with children", models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "x",
			Answer: json.RawMessage(`{"correct": true}`), Children: []models.CreateQuestionRequest{tfChild}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := BuildQuestion(tt.req, false)
			if tt.wantErr {
				if !errors.Is(err, apierr.ErrInvalidRequest) {
					t.Errorf("BuildQuestion() error = %v, want invalid request", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildQuestion() error: %v", err)
			}
			if q.Difficulty != models.DifficultyBasic {
				t.Errorf("Difficulty = %q, want basic default", q.Difficulty)
			}
		})
	}
}

func TestBuildQuestionGroupChildren(t *testing.T) {
	child := models.CreateQuestionRequest{Kind: models.KindTrueFalse, Content: "Is it?", Answer: json.RawMessage(`{"correct": true}`)}
	q, err := BuildQuestion(models.CreateQuestionRequest{SubjectID: "s1", Kind: models.KindTrueFalse, Content: "passage",
		IsGroup: true, Children: []models.CreateQuestionRequest{child, child, child}}, false)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range q.Children {
		if c.Order != i+1 || c.SubjectID != "s1" || c.Answer == nil {
			t.Errorf("child %d = %+v", i, c)
		}
	}
}

// ── Scope ───────────────────────────────────────────────

type curriculum struct {
	svc      *Service
	subject  string
	topicA   string
	topicB   string
	unitA1   string
	unitB1   string
	foreignS string
}

func newCurriculum(t *testing.T) curriculum {
	t.Helper()
	db := dbtest.Open(t)
	for _, u := range []string{"u1", "u2"} {
		if _, err := db.Exec(`INSERT INTO users (id, email, name, password, created_at) VALUES ($1, $2, 'U', 'x', 0)`,
			u, u+"@example.com"); err != nil {
			t.Fatal(err)
		}
	}
	svc := NewService(NewStore(db), logger.NewNop())
	ctx := context.Background()

	c := curriculum{svc: svc}
	subj, err := svc.CreateSubject(ctx, "u1", models.CreateSubjectRequest{Name: "History"})
	if err != nil {
		t.Fatal(err)
	}
	c.subject = subj.ID
	foreign, err := svc.CreateSubject(ctx, "u2", models.CreateSubjectRequest{Name: "Art"})
	if err != nil {
		t.Fatal(err)
	}
	c.foreignS = foreign.ID

	ta, err := svc.CreateTopic(ctx, "u1", c.subject, models.CreateTopicRequest{Name: "Ancient"})
	if err != nil {
		t.Fatal(err)
	}
	tb, err := svc.CreateTopic(ctx, "u1", c.subject, models.CreateTopicRequest{Name: "Modern"})
	if err != nil {
		t.Fatal(err)
	}
	c.topicA, c.topicB = ta.ID, tb.ID
	ua, err := svc.CreateUnit(ctx, "u1", c.topicA, models.CreateUnitRequest{Name: "Rome"})
	if err != nil {
		t.Fatal(err)
	}
	ub, err := svc.CreateUnit(ctx, "u1", c.topicB, models.CreateUnitRequest{Name: "Industry"})
	if err != nil {
		t.Fatal(err)
	}
	c.unitA1, c.unitB1 = ua.ID, ub.ID
	return c
}

func TestResolveScope(t *testing.T) {
	c := newCurriculum(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		subject string
		topics  []string
		units   []string
		wantErr bool
	}{
		{"whole subject", "u1", c.subject, nil, nil, false},
		{"topics", "u1", c.subject, []string{c.topicA, c.topicA}, nil, false},
		{"unit in selected topic", "u1", c.subject, []string{c.topicA}, []string{c.unitA1}, false},
		{"unit outside selected topic", "u1", c.subject, []string{c.topicA}, []string{c.unitB1}, true},
		{"units only", "u1", c.subject, nil, []string{c.unitA1, c.unitB1}, false},
		{"missing subject", "u1", "", nil, nil, true},
		{"unknown subject", "u1", "nope", nil, nil, true},
		{"someone else's subject", "u1", c.foreignS, nil, nil, true},
		{"unknown topic", "u1", c.subject, []string{"nope"}, nil, true},
		{"unknown unit", "u1", c.subject, nil, []string{"nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := c.svc.ResolveScope(ctx, tt.user, tt.subject, tt.topics, tt.units)
			if tt.wantErr {
				if !errors.Is(err, apierr.ErrInvalidScope) {
					t.Errorf("ResolveScope() error = %v, want invalid scope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveScope() error: %v", err)
			}
			if scope.SubjectID != tt.subject {
				t.Errorf("SubjectID = %q, want %q", scope.SubjectID, tt.subject)
			}
			if len(tt.topics) > 0 && len(scope.TopicIDs) != 1 {
				t.Errorf("TopicIDs = %v, want duplicates removed", scope.TopicIDs)
			}
		})
	}
}

func TestCreateQuestionPlacement(t *testing.T) {
	c := newCurriculum(t)
	ctx := context.Background()
	answer := json.RawMessage(`{"correct": true}`)

	q, err := c.svc.CreateQuestion(ctx, "u1", models.CreateQuestionRequest{
		SubjectID: c.subject, UnitID: &c.unitA1, Kind: models.KindTrueFalse, Content: "Rome fell in 476.", Answer: answer,
	})
	if err != nil {
		t.Fatalf("CreateQuestion() error: %v", err)
	}
	if q.TopicID == nil || *q.TopicID != c.topicA {
		t.Errorf("TopicID = %v, want the unit's topic %s", q.TopicID, c.topicA)
	}

	_, err = c.svc.CreateQuestion(ctx, "u1", models.CreateQuestionRequest{
		SubjectID: c.subject, TopicID: &c.topicB, UnitID: &c.unitA1, Kind: models.KindTrueFalse, Content: "x", Answer: answer,
	})
	if !errors.Is(err, apierr.ErrInvalidScope) {
		t.Errorf("unit/topic mismatch error = %v, want invalid scope", err)
	}

	_, err = c.svc.CreateQuestion(ctx, "u2", models.CreateQuestionRequest{
		SubjectID: c.subject, Kind: models.KindTrueFalse, Content: "x", Answer: answer,
	})
	if err == nil {
		t.Error("CreateQuestion() in someone else's subject succeeded")
	}

	// topic-scoped pools include questions placed directly on the topic
	if _, err := c.svc.CreateQuestion(ctx, "u1", models.CreateQuestionRequest{
		SubjectID: c.subject, TopicID: &c.topicA, Kind: models.KindTrueFalse, Content: "Topic level.", Answer: answer,
	}); err != nil {
		t.Fatal(err)
	}
	scope, err := c.svc.ResolveScope(ctx, "u1", c.subject, []string{c.topicA}, nil)
	if err != nil {
		t.Fatal(err)
	}
	qs, err := c.svc.store.QueryQuestions(ctx, scope.Filter())
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 2 {
		t.Errorf("topic pool has %d questions, want 2", len(qs))
	}
}
