package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coursehub/quiz-service/internal/events"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/validator"
)

type scoringService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
}

func NewScoringService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher) ScoringService {
	return &scoringService{
		repo:      repo,
		logger:    logger,
		validator: validator,
		publisher: publisher,
	}
}

// ===== AUTOMATIC SCORING =====

// ScoreAttempt grades every auto-gradable answer of a completed attempt
// and persists the aggregate. Safe to call repeatedly; recomputes from
// scratch each time.
func (s *scoringService) ScoreAttempt(ctx context.Context, attemptID uint) (*AttemptScoreResult, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status == models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, attempt.QuizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	questions, err := s.repo.Question().GetActiveByQuiz(ctx, nil, attempt.QuizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active questions: %w", err)
	}

	answers, err := s.repo.Answer().GetByAttempt(ctx, nil, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}

	result, gradedAnswers := s.computeScore(attemptID, quiz, questions, answers)

	// Persist answer grades and the aggregate in one transaction
	err = s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
		for _, answer := range gradedAnswers {
			if err := r.Answer().Update(ctx, nil, answer); err != nil {
				return fmt.Errorf("failed to persist grade for answer %d: %w", answer.ID, err)
			}
		}
		return r.Attempt().UpdateScore(ctx, nil, attemptID,
			result.Score, result.MaxScore, result.Percentage, result.Passed, result.FullyGraded)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist attempt score: %w", err)
	}

	s.logger.Info("Attempt scored",
		"attempt_id", attemptID,
		"score", result.Score,
		"max_score", result.MaxScore,
		"percentage", result.Percentage,
		"passed", result.Passed,
		"fully_graded", result.FullyGraded)

	return result, nil
}

func (s *scoringService) RescoreAttempt(ctx context.Context, attemptID uint, userID string) (*AttemptScoreResult, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	canManage, err := s.canManageQuiz(ctx, attempt.QuizID, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, attemptID, "attempt", "rescore", "not quiz owner or insufficient permissions")
	}

	return s.ScoreAttempt(ctx, attemptID)
}

// ===== MANUAL GRADING =====

func (s *scoringService) GradeAnswer(ctx context.Context, answerID uint, req *GradeAnswerRequest, graderID string) (*GradingResult, error) {
	s.logger.Info("Grading answer manually",
		"answer_id", answerID,
		"grader_id", graderID,
		"earned_points", req.EarnedPoints)

	if err := s.validator.Validate(req); err != nil {
		return nil, validator.ToValidationErrors(err)
	}

	answer, err := s.repo.Answer().GetByIDWithDetails(ctx, nil, answerID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	canManage, err := s.canManageQuiz(ctx, answer.Attempt.QuizID, graderID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(graderID, answerID, "answer", "grade", "not quiz owner or insufficient permissions")
	}

	// Only terminal attempts accept manual grades
	if !answer.Attempt.Status.IsTerminal() {
		return nil, ErrGradingNotAllowed
	}

	if req.EarnedPoints < 0 || req.EarnedPoints > answer.Question.Points {
		return nil, NewBusinessRuleError("grade_bounds",
			fmt.Sprintf("earned points must be within [0, %g]", answer.Question.Points),
			map[string]interface{}{"answer_id": answerID, "earned_points": req.EarnedPoints})
	}

	// Full credit counts as correct
	isCorrect := req.EarnedPoints >= answer.Question.Points

	if err := s.repo.Answer().UpdateGrade(ctx, nil, answerID, req.EarnedPoints, &isCorrect, req.Feedback, graderID); err != nil {
		return nil, fmt.Errorf("failed to update grade: %w", err)
	}

	// Re-aggregate the attempt with the new grade in place
	scoreResult, err := s.ScoreAttempt(ctx, answer.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to rescore attempt after grading: %w", err)
	}

	if scoreResult.FullyGraded {
		event := events.NewEvent(events.EventAttemptGraded, events.AttemptGradedEvent{
			AttemptID:  answer.AttemptID,
			QuizID:     answer.Attempt.QuizID,
			UserID:     answer.Attempt.UserID,
			GradedBy:   graderID,
			Percentage: scoreResult.Percentage,
			Passed:     scoreResult.Passed,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish attempt graded event",
				"attempt_id", answer.AttemptID, "error", err)
		}
	}

	return &GradingResult{
		AnswerID:     answerID,
		QuestionID:   answer.QuestionID,
		EarnedPoints: req.EarnedPoints,
		MaxPoints:    answer.Question.Points,
		IsCorrect:    &isCorrect,
		Feedback:     req.Feedback,
	}, nil
}

func (s *scoringService) GetPendingGrading(ctx context.Context, quizID uint, filters repositories.AnswerFilters, userID string) ([]*models.Answer, error) {
	canManage, err := s.canManageQuiz(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, quizID, "quiz", "view_pending_grading", "not quiz owner or insufficient permissions")
	}

	answers, err := s.repo.Answer().GetPendingGrading(ctx, nil, quizID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending grading: %w", err)
	}

	return answers, nil
}

func (s *scoringService) GetGradingStats(ctx context.Context, quizID uint, userID string) (*repositories.GradingStats, error) {
	canManage, err := s.canManageQuiz(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, quizID, "quiz", "view_grading_stats", "not quiz owner or insufficient permissions")
	}

	stats, err := s.repo.Answer().GetGradingStats(ctx, nil, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get grading stats: %w", err)
	}

	return stats, nil
}

// ===== HELPERS =====

func (s *scoringService) canManageQuiz(ctx context.Context, quizID uint, userID string) (bool, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	if user.Role == models.RoleAdmin {
		return true, nil
	}
	if user.Role != models.RoleInstructor {
		return false, nil
	}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrQuizNotFound
		}
		return false, fmt.Errorf("failed to get quiz: %w", err)
	}

	return quiz.CreatedBy == userID, nil
}
