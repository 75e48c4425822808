package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

// IsTerminal reports whether the status admits no further transitions.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptCompleted || s == AttemptAbandoned
}

type AbandonReason string

const (
	AbandonRequested AbandonReason = "requested"
	AbandonTimeout   AbandonReason = "timeout"
	AbandonSwept     AbandonReason = "swept"
)

type QuizAttempt struct {
	ID            uint          `json:"id" gorm:"primaryKey;uniqueIndex:idx_quiz_user_attempt_no,priority:4"`
	QuizID        uint          `json:"quiz_id" gorm:"not null;index;uniqueIndex:idx_quiz_user_attempt_no,priority:1"`
	UserID        string        `json:"user_id" gorm:"not null;index;size:255;uniqueIndex:idx_quiz_user_attempt_no,priority:2"`
	AttemptNumber int           `json:"attempt_number" gorm:"not null;uniqueIndex:idx_quiz_user_attempt_no,priority:3"`
	Status        AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	// Timing
	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`
	AbandonedAt *time.Time `json:"abandoned_at"`
	TimeTaken   int        `json:"time_taken"` // seconds, set on completion

	// Question order snapshot taken at start, []uint of question ids.
	// Resume replays this order even if the quiz is edited mid-attempt.
	QuestionOrder datatypes.JSON `json:"question_order" gorm:"type:jsonb"`

	// Scoring, populated when the attempt is scored
	Score         float64 `json:"score"`
	MaxScore      float64 `json:"max_score"`
	Percentage    float64 `json:"percentage"`
	Passed        bool    `json:"passed"`
	FullyGraded   bool    `json:"fully_graded"` // false while essay answers await manual grading
	AbandonReason *string `json:"abandon_reason" gorm:"size:50"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Quiz    Quiz     `json:"quiz" gorm:"foreignKey:QuizID"`
	User    User     `json:"user" gorm:"foreignKey:UserID"`
	Answers []Answer `json:"answers" gorm:"foreignKey:AttemptID"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

// Deadline returns the instant the attempt's time limit expires, or
// false when the quiz is untimed.
func (a *QuizAttempt) Deadline(timeLimitMinutes *int) (time.Time, bool) {
	if timeLimitMinutes == nil {
		return time.Time{}, false
	}
	return a.StartedAt.Add(time.Duration(*timeLimitMinutes) * time.Minute), true
}

// OrderedQuestionIDs decodes the persisted question order snapshot.
func (a *QuizAttempt) OrderedQuestionIDs() ([]uint, error) {
	if len(a.QuestionOrder) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal(a.QuestionOrder, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

type Answer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;index;uniqueIndex:idx_attempt_question"`

	// Submitted payload, shape depends on Question.Kind
	Response datatypes.JSON `json:"response" gorm:"type:jsonb"`

	// Grading
	EarnedPoints float64    `json:"earned_points"`
	IsCorrect    *bool      `json:"is_correct"` // nil until graded; stays nil-then-set for essays
	GradedBy     *string    `json:"graded_by" gorm:"size:255"`
	GradedAt     *time.Time `json:"graded_at"`
	Feedback     *string    `json:"feedback" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Attempt  QuizAttempt `json:"attempt" gorm:"foreignKey:AttemptID"`
	Question Question    `json:"question" gorm:"foreignKey:QuestionID"`
}

func (Answer) TableName() string {
	return "answers"
}
