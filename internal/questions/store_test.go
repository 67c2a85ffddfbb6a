package questions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/studytrack/backend/internal/database/dbtest"
	"github.com/studytrack/backend/internal/models"
)

func newStore(t *testing.T) (*Store, *sql.DB, string) {
	t.Helper()
	db := dbtest.Open(t)
	if _, err := db.Exec(`INSERT INTO users (id, email, name, password, created_at) VALUES ('u1', 'u1@example.com', 'U', 'x', 0)`); err != nil {
		t.Fatal(err)
	}
	s := NewStore(db)
	subj, err := s.CreateSubject(context.Background(), "u1", "Physics")
	if err != nil {
		t.Fatal(err)
	}
	return s, db, subj.ID
}

func tfQuestion(subjectID, content string, diff models.Difficulty) *models.Question {
	return &models.Question{SubjectID: subjectID, Kind: models.KindTrueFalse, Content: content,
		Difficulty: diff, Answer: models.BoolAnswer{Value: true}}
}

func TestCreateGroupRoundTrip(t *testing.T) {
	s, _, subjectID := newStore(t)
	ctx := context.Background()

	group := &models.Question{SubjectID: subjectID, Kind: models.KindSingleChoice, Content: "Read the figure.",
		Difficulty: models.DifficultyAdvanced, IsGroup: true}
	for _, content := range []string{"first", "second", "third"} {
		group.Children = append(group.Children, models.Question{
			Kind: models.KindSingleChoice, Content: content, Difficulty: models.DifficultyAdvanced,
			Options: []models.Option{{Key: "A", Text: "up"}, {Key: "B", Text: "down"}},
			Answer:  models.ChoiceAnswer{Keys: []string{"A"}},
		})
	}
	if err := s.CreateQuestion(ctx, group); err != nil {
		t.Fatalf("CreateQuestion() error: %v", err)
	}

	got, err := s.GetQuestion(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetQuestion() error: %v", err)
	}
	if !got.IsGroup || got.Answer != nil || len(got.Children) != 3 {
		t.Fatalf("group = %+v", got)
	}
	for i, c := range got.Children {
		if c.Order != i+1 || c.ParentID == nil || *c.ParentID != group.ID {
			t.Errorf("child %d order/parent = %d/%v", i, c.Order, c.ParentID)
		}
		if c.Content != group.Children[i].Content {
			t.Errorf("child %d content = %q, want %q", i, c.Content, group.Children[i].Content)
		}
		if a, ok := c.Answer.(models.ChoiceAnswer); !ok || a.Keys[0] != "A" {
			t.Errorf("child %d answer = %#v", i, c.Answer)
		}
		if len(c.Options) != 2 {
			t.Errorf("child %d options = %v", i, c.Options)
		}
	}

	top, err := s.QueryQuestions(ctx, models.QuestionFilter{SubjectID: subjectID})
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].ID != group.ID {
		t.Errorf("QueryQuestions() returned children as top-level: %d rows", len(top))
	}
}

func TestQueryQuestionsFilters(t *testing.T) {
	s, _, subjectID := newStore(t)
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, subjectID, models.CreateTopicRequest{Name: "Optics"})
	if err != nil {
		t.Fatal(err)
	}
	unit, err := s.CreateUnit(ctx, *topic, models.CreateUnitRequest{Name: "Lenses"})
	if err != nil {
		t.Fatal(err)
	}

	inUnit := tfQuestion(subjectID, "in unit", models.DifficultyBasic)
	inUnit.TopicID, inUnit.UnitID = &topic.ID, &unit.ID
	onTopic := tfQuestion(subjectID, "on topic", models.DifficultyAdvanced)
	onTopic.TopicID = &topic.ID
	loose := tfQuestion(subjectID, "loose", models.DifficultyBasic)
	essay := &models.Question{SubjectID: subjectID, Kind: models.KindEssay, Content: "discuss",
		Difficulty: models.DifficultyBasic, Answer: models.TextAnswer{Text: "light bends"}}
	for _, q := range []*models.Question{inUnit, onTopic, loose, essay} {
		if err := s.CreateQuestion(ctx, q); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter models.QuestionFilter
		want   int
	}{
		{"subject", models.QuestionFilter{SubjectID: subjectID}, 4},
		{"kind", models.QuestionFilter{SubjectID: subjectID, Kind: models.KindTrueFalse}, 3},
		{"kind and difficulty", models.QuestionFilter{SubjectID: subjectID, Kind: models.KindTrueFalse, Difficulty: models.DifficultyAdvanced}, 1},
		{"topic", models.QuestionFilter{SubjectID: subjectID, TopicIDs: []string{topic.ID}}, 2},
		{"unit", models.QuestionFilter{SubjectID: subjectID, UnitIDs: []string{unit.ID}}, 1},
		{"units win over topics", models.QuestionFilter{SubjectID: subjectID, TopicIDs: []string{topic.ID}, UnitIDs: []string{unit.ID}}, 1},
		{"other subject", models.QuestionFilter{SubjectID: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.QueryQuestions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryQuestions() error: %v", err)
			}
			if len(qs) != tt.want {
				t.Errorf("QueryQuestions(%s) = %d rows, want %d", tt.name, len(qs), tt.want)
			}
		})
	}
}

func TestListQuestionsByStatus(t *testing.T) {
	s, _, subjectID := newStore(t)
	ctx := context.Background()

	fresh := tfQuestion(subjectID, "fresh", models.DifficultyBasic)
	learned := tfQuestion(subjectID, "learned", models.DifficultyBasic)
	for _, q := range []*models.Question{fresh, learned} {
		if err := s.CreateQuestion(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordAttempt(ctx, learned.ID, true, time.Now()); err != nil {
			t.Fatal(err)
		}
	}

	qs, total, err := s.ListQuestions(ctx, subjectID, "", models.StatusMastered, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(qs) != 1 || qs[0].ID != learned.ID {
		t.Errorf("mastered list = %d/%d rows", len(qs), total)
	}

	qs, total, err = s.ListQuestions(ctx, subjectID, "", "", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(qs) != 1 {
		t.Errorf("page 2 = %d rows of %d, want 1 of 2", len(qs), total)
	}
}

func TestDeleteQuestion(t *testing.T) {
	s, db, subjectID := newStore(t)
	ctx := context.Background()

	group := &models.Question{SubjectID: subjectID, Kind: models.KindTrueFalse, Content: "set", IsGroup: true,
		Difficulty: models.DifficultyBasic, Children: []models.Question{*tfQuestion(subjectID, "child", models.DifficultyBasic)}}
	if err := s.CreateQuestion(ctx, group); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteQuestion(ctx, group.ID); err != nil {
		t.Fatalf("DeleteQuestion() error: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d questions left after deleting the group", n)
	}
	if err := s.DeleteQuestion(ctx, group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteQuestion() error = %v, want ErrNotFound", err)
	}
}
