package services

import (
	"context"

	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
)

// ===== REQUEST/RESPONSE DTOs =====

// Request shapes shared with the validator layer
type CreateQuizRequest = models.QuizCreateRequest
type UpdateQuizRequest = models.QuizUpdateRequest
type CreateQuestionRequest = models.QuestionCreateRequest
type UpdateQuestionRequest = models.QuestionUpdateRequest

type QuizResponse struct {
	*models.Quiz
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
	CanTake   bool `json:"can_take"`
}

type QuizListResponse struct {
	Quizzes []*QuizResponse `json:"quizzes"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
}

type UpdateStatusRequest struct {
	Status models.QuizStatus `json:"status" validate:"required,oneof=draft active archived"`
	Reason *string           `json:"reason" validate:"omitempty,max=500"`
}

// ===== ATTEMPT RELATED DTOs =====

type StartAttemptRequest struct {
	QuizID uint `json:"quiz_id" validate:"required"`
}

type SubmitAttemptRequest struct {
	AttemptID uint                     `json:"attempt_id" validate:"required"`
	Answers   []models.SubmittedAnswer `json:"answers" validate:"dive"`
}

type AttemptResponse struct {
	*models.QuizAttempt
	CanSubmit            bool                 `json:"can_submit"`
	CanResume            bool                 `json:"can_resume"`
	TimeRemainingSeconds *int                 `json:"time_remaining_seconds,omitempty"`
	Questions            []QuestionForAttempt `json:"questions,omitempty"`
}

type QuestionForAttempt struct {
	*models.Question
	IsFirst bool `json:"is_first"`
	IsLast  bool `json:"is_last"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

// ===== GRADING RELATED DTOs =====

type GradeAnswerRequest = models.GradeAnswerRequest

type GradingResult struct {
	AnswerID     uint    `json:"answer_id"`
	QuestionID   uint    `json:"question_id"`
	EarnedPoints float64 `json:"earned_points"`
	MaxPoints    float64 `json:"max_points"`
	IsCorrect    *bool   `json:"is_correct"`
	Feedback     *string `json:"feedback,omitempty"`
}

type AttemptScoreResult struct {
	AttemptID   uint            `json:"attempt_id"`
	Score       float64         `json:"score"`
	MaxScore    float64         `json:"max_score"`
	Percentage  float64         `json:"percentage"`
	Passed      bool            `json:"passed"`
	FullyGraded bool            `json:"fully_graded"`
	Answers     []GradingResult `json:"answers"`
}

// ===== SERVICE INTERFACES =====

type QuizService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateQuizRequest, creatorID string) (*QuizResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*QuizResponse, error)
	GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*QuizResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuizRequest, userID string) (*QuizResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// List operations
	List(ctx context.Context, filters repositories.QuizFilters, userID string) (*QuizListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.QuizFilters) (*QuizListResponse, error)

	// Status management
	UpdateStatus(ctx context.Context, id uint, req *UpdateStatusRequest, userID string) error
	Publish(ctx context.Context, id uint, userID string) error
	Archive(ctx context.Context, id uint, userID string) error

	// Question management
	AddQuestion(ctx context.Context, quizID uint, req *CreateQuestionRequest, userID string) (*models.Question, error)
	AddQuestionsBatch(ctx context.Context, quizID uint, reqs []*CreateQuestionRequest, userID string) ([]*models.Question, error)
	UpdateQuestion(ctx context.Context, quizID, questionID uint, req *UpdateQuestionRequest, userID string) (*models.Question, error)
	RemoveQuestion(ctx context.Context, quizID, questionID uint, userID string) error
	GetQuestions(ctx context.Context, quizID uint, userID string) ([]*models.Question, error)

	// Statistics
	GetStats(ctx context.Context, id uint, userID string) (*repositories.AttemptStats, error)

	// Permission checks
	CanEdit(ctx context.Context, quizID uint, userID string) (bool, error)
	CanTake(ctx context.Context, quizID uint, userID string) (bool, error)
}

type AttemptService interface {
	// Core attempt operations
	Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error)
	Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error)
	Resume(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error)
	Abandon(ctx context.Context, attemptID uint, studentID string) error

	// Get operations
	GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error)
	GetByIDWithDetails(ctx context.Context, id uint, userID string) (*AttemptResponse, error)
	GetActiveAttempt(ctx context.Context, quizID uint, studentID string) (*AttemptResponse, error)

	// List operations
	List(ctx context.Context, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)
	GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)

	// Time management
	GetTimeRemaining(ctx context.Context, attemptID uint, studentID string) (int, error) // seconds
	HandleTimeout(ctx context.Context, attemptID uint) error
	SweepOverdueAttempts(ctx context.Context) (int, error)

	// Validation
	CanStart(ctx context.Context, quizID uint, studentID string) (*repositories.AttemptValidation, error)
	GetAttemptCount(ctx context.Context, quizID uint, studentID string) (int, error)

	// Statistics
	GetStats(ctx context.Context, quizID uint, userID string) (*repositories.AttemptStats, error)
}

type ScoringService interface {
	// Automatic scoring
	ScoreAttempt(ctx context.Context, attemptID uint) (*AttemptScoreResult, error)
	RescoreAttempt(ctx context.Context, attemptID uint, userID string) (*AttemptScoreResult, error)

	// Manual grading
	GradeAnswer(ctx context.Context, answerID uint, req *GradeAnswerRequest, graderID string) (*GradingResult, error)
	GetPendingGrading(ctx context.Context, quizID uint, filters repositories.AnswerFilters, userID string) ([]*models.Answer, error)
	GetGradingStats(ctx context.Context, quizID uint, userID string) (*repositories.GradingStats, error)
}

type ExportService interface {
	// ExportQuizResults renders a quiz's terminal attempts as an xlsx workbook
	ExportQuizResults(ctx context.Context, quizID uint, userID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Quiz() QuizService
	Attempt() AttemptService
	Scoring() ScoringService
	Export() ExportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
