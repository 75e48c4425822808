package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// EventSource identifies this service in published events
	EventSource = "quiz-service"

	// EventVersion is the current event schema version
	EventVersion = "1.0"
)

// Event types published to the attempts topic
const (
	EventAttemptCompleted = "attempt.completed"
	EventAttemptAbandoned = "attempt.abandoned"
	EventAttemptGraded    = "attempt.graded"
	EventQuizPublished    = "quiz.published"
)

// Event is the envelope for all messages published by this service
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AttemptCompletedEvent is emitted when an attempt is submitted and scored
type AttemptCompletedEvent struct {
	AttemptID  uint    `json:"attempt_id"`
	QuizID     uint    `json:"quiz_id"`
	UserID     string  `json:"user_id"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
	TimeTaken  int     `json:"time_taken"`
}

// AttemptAbandonedEvent is emitted when an attempt is abandoned,
// either by the student or by the overdue sweeper
type AttemptAbandonedEvent struct {
	AttemptID uint   `json:"attempt_id"`
	QuizID    uint   `json:"quiz_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

// AttemptGradedEvent is emitted when manual grading completes an attempt's score
type AttemptGradedEvent struct {
	AttemptID  uint    `json:"attempt_id"`
	QuizID     uint    `json:"quiz_id"`
	UserID     string  `json:"user_id"`
	GradedBy   string  `json:"graded_by"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
}

// QuizPublishedEvent is emitted when a quiz transitions to active
type QuizPublishedEvent struct {
	QuizID    uint   `json:"quiz_id"`
	CourseID  uint   `json:"course_id"`
	CreatedBy string `json:"created_by"`
	Title     string `json:"title"`
}

// EventPublisher publishes domain events to the message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NewEvent builds an event envelope with the standard metadata fields
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
