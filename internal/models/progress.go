package models

// ── Progress Types ───────────────────────────────────────

// SubjectProgress summarises the mastery state of every answerable
// question in a subject.
type SubjectProgress struct {
	SubjectID       string                      `json:"subject_id"`
	TotalQuestions  int                         `json:"total_questions"`
	TotalAttempts   int                         `json:"total_attempts"`
	TotalWrong      int                         `json:"total_wrong"`
	OverallAccuracy float64                     `json:"overall_accuracy"`
	ByStatus        map[MasteryStatus]int       `json:"by_status"`
	ByKind          map[Kind]ProgressStat       `json:"by_kind"`
	ByDifficulty    map[Difficulty]ProgressStat `json:"by_difficulty"`
}

type ProgressStat struct {
	Questions int     `json:"questions"`
	Mastered  int     `json:"mastered"`
	Attempts  int     `json:"attempts"`
	Wrong     int     `json:"wrong"`
	Accuracy  float64 `json:"accuracy"`
}

func (p *ProgressStat) add(q Question) {
	p.Questions++
	p.Attempts += q.AttemptCount
	p.Wrong += q.WrongCount
	if q.Mastered() {
		p.Mastered++
	}
	p.Accuracy = accuracy(p.Attempts, p.Wrong)
}

// accuracy is the percentage of correct attempts, rounded to one decimal.
func accuracy(attempts, wrong int) float64 {
	if attempts == 0 {
		return 0
	}
	pct := float64(attempts-wrong) * 100 / float64(attempts)
	return float64(int(pct*10+0.5)) / 10
}

// BuildProgress folds the leaves of qs into a SubjectProgress. Group
// questions contribute their children, never themselves.
func BuildProgress(subjectID string, qs []Question) SubjectProgress {
	p := SubjectProgress{
		SubjectID:    subjectID,
		ByStatus:     map[MasteryStatus]int{StatusNew: 0, StatusLearning: 0, StatusMastered: 0},
		ByKind:       map[Kind]ProgressStat{},
		ByDifficulty: map[Difficulty]ProgressStat{},
	}
	for _, q := range qs {
		for _, leaf := range q.Leaves() {
			p.TotalQuestions++
			p.TotalAttempts += leaf.AttemptCount
			p.TotalWrong += leaf.WrongCount
			p.ByStatus[leaf.Status()]++

			k := p.ByKind[leaf.Kind]
			k.add(leaf)
			p.ByKind[leaf.Kind] = k

			d := p.ByDifficulty[leaf.Difficulty]
			d.add(leaf)
			p.ByDifficulty[leaf.Difficulty] = d
		}
	}
	p.OverallAccuracy = accuracy(p.TotalAttempts, p.TotalWrong)
	return p
}
