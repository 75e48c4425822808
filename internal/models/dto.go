package models

import (
	"encoding/json"
	"time"
)

type QuizCreateRequest struct {
	CourseID         uint       `json:"course_id" validate:"required"`
	Type             QuizType   `json:"type" validate:"omitempty,oneof=quiz exam assignment"`
	Title            string     `json:"title" validate:"required,min=1,max=200"`
	Description      *string    `json:"description" validate:"omitempty,max=1000"`
	TimeLimit        *int       `json:"time_limit" validate:"omitempty,min=1,max=300"`
	PassingScore     float64    `json:"passing_score" validate:"min=0,max=100"`
	MaxAttempts      int        `json:"max_attempts" validate:"min=1,max=10"`
	AvailableFrom    *time.Time `json:"available_from"`
	AvailableUntil   *time.Time `json:"available_until"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
}

type QuizUpdateRequest struct {
	Type             *QuizType  `json:"type" validate:"omitempty,oneof=quiz exam assignment"`
	Title            *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description      *string    `json:"description" validate:"omitempty,max=1000"`
	TimeLimit        *int       `json:"time_limit" validate:"omitempty,min=1,max=300"`
	PassingScore     *float64   `json:"passing_score" validate:"omitempty,min=0,max=100"`
	MaxAttempts      *int       `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	AvailableFrom    *time.Time `json:"available_from"`
	AvailableUntil   *time.Time `json:"available_until"`
	ShuffleQuestions *bool      `json:"shuffle_questions"`
}

type QuestionCreateRequest struct {
	Kind        QuestionKind    `json:"kind" validate:"required,oneof=single_choice multiple_choice true_false fill_blank essay"`
	Text        string          `json:"text" validate:"required"`
	Points      float64         `json:"points" validate:"gt=0"`
	Position    int             `json:"position" validate:"min=0"`
	Content     json.RawMessage `json:"content" validate:"required"`
	Explanation *string         `json:"explanation"`
}

type QuestionUpdateRequest struct {
	Text        *string         `json:"text" validate:"omitempty,min=1"`
	Points      *float64        `json:"points" validate:"omitempty,gt=0"`
	Position    *int            `json:"position" validate:"omitempty,min=0"`
	Content     json.RawMessage `json:"content"`
	IsActive    *bool           `json:"is_active"`
	Explanation *string         `json:"explanation"`
}

// SubmittedAnswer carries one answer payload. An empty response is
// treated as unanswered rather than rejected.
type SubmittedAnswer struct {
	QuestionID uint            `json:"question_id" validate:"required"`
	Response   json.RawMessage `json:"response"`
}

type GradeAnswerRequest struct {
	EarnedPoints float64 `json:"earned_points" validate:"min=0"`
	Feedback     *string `json:"feedback" validate:"omitempty,max=2000"`
}
