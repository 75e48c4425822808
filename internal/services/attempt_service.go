package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coursehub/quiz-service/internal/events"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/validator"
	"gorm.io/datatypes"
)

type attemptService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	scoring   ScoringService

	// Rejecting unknown question ids on submit instead of dropping them
	strictAnswers bool

	// Serializes Start per (quiz, user) so attempt numbers stay dense.
	// A fixed stripe set keeps memory constant no matter how many
	// pairs pass through.
	startLocks [64]sync.Mutex
}

func NewAttemptService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, scoring ScoringService, strictAnswers bool) AttemptService {
	return &attemptService{
		repo:          repo,
		logger:        logger,
		validator:     validator,
		publisher:     publisher,
		scoring:       scoring,
		strictAnswers: strictAnswers,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting quiz attempt",
		"quiz_id", req.QuizID,
		"student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, validator.ToValidationErrors(err)
	}

	unlock := s.lockStart(req.QuizID, studentID)
	defer unlock()

	// An in-progress attempt is resumed, not duplicated
	active, err := s.repo.Attempt().GetActiveAttempt(ctx, nil, studentID, req.QuizID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check active attempt: %w", err)
	}
	if active != nil {
		if expired, herr := s.expireIfOverdue(ctx, active); herr != nil {
			return nil, herr
		} else if !expired {
			s.logger.Info("Resuming existing attempt", "attempt_id", active.ID)
			return s.GetByIDWithDetails(ctx, active.ID, studentID)
		}
	}

	validation, err := s.CanStart(ctx, req.QuizID, studentID)
	if err != nil {
		return nil, err
	}
	if !validation.CanStart {
		return nil, s.startDenied(validation)
	}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, req.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	questions, err := s.repo.Question().GetActiveByQuiz(ctx, nil, req.QuizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrQuizHasNoQuestions
	}

	order := make([]uint, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	if quiz.ShuffleQuestions {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot question order: %w", err)
	}

	attempt, err := s.createAttempt(ctx, req.QuizID, studentID, datatypes.JSON(orderJSON))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Quiz attempt started",
		"attempt_id", attempt.ID,
		"quiz_id", req.QuizID,
		"student_id", studentID,
		"attempt_number", attempt.AttemptNumber)

	return s.GetByIDWithDetails(ctx, attempt.ID, studentID)
}

func (s *attemptService) Submit(ctx context.Context, req *SubmitAttemptRequest, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Submitting quiz attempt",
		"attempt_id", req.AttemptID,
		"student_id", studentID,
		"answers_count", len(req.Answers))

	if err := s.validator.Validate(req); err != nil {
		return nil, validator.ToValidationErrors(err)
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, req.AttemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.UserID != studentID {
		return nil, NewPermissionError(studentID, req.AttemptID, "attempt", "submit", "not owned by student")
	}

	switch attempt.Status {
	case models.AttemptCompleted:
		return nil, ErrAttemptAlreadySubmitted
	case models.AttemptAbandoned:
		return nil, ErrAttemptNotActive
	}

	if expired, herr := s.expireIfOverdue(ctx, attempt); herr != nil {
		return nil, herr
	} else if expired {
		return nil, ErrAttemptTimeExpired
	}

	answers, err := s.collectAnswers(attempt, req.Answers)
	if err != nil {
		return nil, err
	}

	// Answers and the status flip land in one transaction
	completedAt := time.Now()
	err = s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
		if len(answers) > 0 {
			if err := r.Answer().CreateBatch(ctx, nil, answers); err != nil {
				return fmt.Errorf("failed to persist answers: %w", err)
			}
		}

		attempt.Status = models.AttemptCompleted
		attempt.CompletedAt = &completedAt
		attempt.TimeTaken = elapsedSeconds(attempt.StartedAt, completedAt)

		if err := r.Attempt().Update(ctx, nil, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit attempt transaction: %w", err)
	}

	result, err := s.scoring.ScoreAttempt(ctx, req.AttemptID)
	if err != nil {
		s.logger.Error("Failed to score submitted attempt",
			"attempt_id", req.AttemptID, "error", err)
	} else {
		event := events.NewEvent(events.EventAttemptCompleted, events.AttemptCompletedEvent{
			AttemptID:  attempt.ID,
			QuizID:     attempt.QuizID,
			UserID:     attempt.UserID,
			Score:      result.Score,
			MaxScore:   result.MaxScore,
			Percentage: result.Percentage,
			Passed:     result.Passed,
			TimeTaken:  attempt.TimeTaken,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish attempt completed event",
				"attempt_id", attempt.ID, "error", err)
		}
	}

	s.logger.Info("Quiz attempt submitted",
		"attempt_id", req.AttemptID,
		"student_id", studentID)

	return s.GetByIDWithDetails(ctx, req.AttemptID, studentID)
}

func (s *attemptService) Resume(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.UserID != studentID {
		return nil, NewPermissionError(studentID, attemptID, "attempt", "resume", "not owned by student")
	}

	if attempt.Status != models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	if expired, herr := s.expireIfOverdue(ctx, attempt); herr != nil {
		return nil, herr
	} else if expired {
		return nil, ErrAttemptTimeExpired
	}

	return s.GetByIDWithDetails(ctx, attemptID, studentID)
}

func (s *attemptService) Abandon(ctx context.Context, attemptID uint, studentID string) error {
	s.logger.Info("Abandoning quiz attempt",
		"attempt_id", attemptID,
		"student_id", studentID)

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.UserID != studentID {
		return NewPermissionError(studentID, attemptID, "attempt", "abandon", "not owned by student")
	}

	if attempt.Status != models.AttemptInProgress {
		return ErrAttemptNotActive
	}

	return s.abandonAttempt(ctx, attempt, models.AbandonRequested)
}

// ===== GET OPERATIONS =====

func (s *attemptService) GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	canAccess, err := s.canAccessAttempt(ctx, attempt, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, id, "attempt", "read", "not owner or insufficient permissions")
	}

	return s.buildAttemptResponse(ctx, attempt, userID, false)
}

func (s *attemptService) GetByIDWithDetails(ctx context.Context, id uint, userID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt with details: %w", err)
	}

	canAccess, err := s.canAccessAttempt(ctx, attempt, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, NewPermissionError(userID, id, "attempt", "read", "not owner or insufficient permissions")
	}

	return s.buildAttemptResponse(ctx, attempt, userID, true)
}

func (s *attemptService) GetActiveAttempt(ctx context.Context, quizID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetActiveAttempt(ctx, nil, studentID, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get active attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}

	return s.buildAttemptResponse(ctx, attempt, studentID, false)
}

// ===== LIST OPERATIONS =====

func (s *attemptService) List(ctx context.Context, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Students only ever see their own attempts
	if userRole == models.RoleStudent {
		filters.UserID = &userID
	}

	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return s.buildAttemptListResponse(ctx, attempts, total, filters.Limit, filters.Offset, userID)
}

func (s *attemptService) GetByStudent(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	filters.UserID = &studentID

	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts by student: %w", err)
	}

	return s.buildAttemptListResponse(ctx, attempts, total, filters.Limit, filters.Offset, studentID)
}
