package repositories

import (
	"time"

	"github.com/coursehub/quiz-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type QuizFilters struct {
	Status    *models.QuizStatus `json:"status"`
	CourseID  *uint              `json:"course_id"`
	CreatedBy *string            `json:"created_by"`
	Search    string             `json:"search"`
	DateFrom  *time.Time         `json:"date_from"`
	DateTo    *time.Time         `json:"date_to"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`
	SortOrder string             `json:"sort_order"`
}

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	UserID    *string               `json:"user_id"`
	QuizID    *uint                 `json:"quiz_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type AnswerFilters struct {
	IsGraded *bool   `json:"is_graded"`
	GradedBy *string `json:"graded_by"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
}

// ===== SHARED HELPER STRUCTS =====

// AttemptValidation is the outcome of an eligibility check. Any check
// that cannot be evaluated fails closed at the caller.
type AttemptValidation struct {
	CanStart          bool   `json:"can_start"`
	Reason            string `json:"reason,omitempty"`
	AttemptsUsed      int    `json:"attempts_used"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

type AnswerGrade struct {
	ID           uint    `json:"answer_id"`
	EarnedPoints float64 `json:"earned_points"`
	Feedback     *string `json:"feedback"`
	GraderID     string  `json:"grader_id"`
}

// ===== SHARED STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts    int                          `json:"total_attempts"`
	StatusBreakdown  map[models.AttemptStatus]int `json:"status_breakdown"`
	AverageScore     float64                      `json:"average_score"`
	AverageTimeTaken int                          `json:"average_time_taken"`
	PassRate         float64                      `json:"pass_rate"`
	CompletionRate   float64                      `json:"completion_rate"`
}

type GradingStats struct {
	TotalAnswers   int `json:"total_answers"`
	GradedAnswers  int `json:"graded_answers"`
	PendingAnswers int `json:"pending_answers"`
}
