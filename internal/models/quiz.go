package models

import (
	"time"

	"gorm.io/gorm"
)

type QuizStatus string

const (
	QuizDraft    QuizStatus = "draft"
	QuizActive   QuizStatus = "active"
	QuizArchived QuizStatus = "archived"
)

type QuizType string

const (
	QuizTypeQuiz       QuizType = "quiz"
	QuizTypeExam       QuizType = "exam"
	QuizTypeAssignment QuizType = "assignment"
)

type Quiz struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	CourseID     uint       `json:"course_id" gorm:"not null;index" validate:"required"`
	Type         QuizType   `json:"type" gorm:"default:quiz;size:20" validate:"omitempty,oneof=quiz exam assignment"`
	Title        string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description  *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Status       QuizStatus `json:"status" gorm:"default:draft;index" validate:"omitempty,oneof=draft active archived"`
	TimeLimit    *int       `json:"time_limit" validate:"omitempty,min=1,max=300"` // minutes; nil means untimed
	PassingScore float64    `json:"passing_score" gorm:"not null" validate:"min=0,max=100"`
	MaxAttempts  int        `json:"max_attempts" gorm:"default:1" validate:"min=1,max=10"`

	// Availability window. A nil bound is open on that side.
	AvailableFrom  *time.Time `json:"available_from"`
	AvailableUntil *time.Time `json:"available_until"`

	ShuffleQuestions bool `json:"shuffle_questions" gorm:"default:false"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []Question    `json:"questions" gorm:"foreignKey:QuizID"`
	Attempts  []QuizAttempt `json:"attempts" gorm:"foreignKey:QuizID"`
	Creator   User          `json:"creator" gorm:"foreignKey:CreatedBy"`

	// Computed fields (not stored)
	QuestionCount int     `json:"question_count" gorm:"-"`
	TotalPoints   float64 `json:"total_points" gorm:"-"`
	AttemptCount  int     `json:"attempt_count" gorm:"-"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// IsOpenAt reports whether t falls inside the quiz availability window.
func (q *Quiz) IsOpenAt(t time.Time) bool {
	if q.AvailableFrom != nil && t.Before(*q.AvailableFrom) {
		return false
	}
	if q.AvailableUntil != nil && t.After(*q.AvailableUntil) {
		return false
	}
	return true
}
