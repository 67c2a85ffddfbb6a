package models

import "time"

type Subject struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Topics    []Topic   `json:"topics,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Topic struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Units     []Unit `json:"units,omitempty"`
}

type Unit struct {
	ID        string `json:"id"`
	TopicID   string `json:"topic_id"`
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
}

type CreateSubjectRequest struct {
	Name string `json:"name"`
}

type CreateTopicRequest struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type CreateUnitRequest struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}
