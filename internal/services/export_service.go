package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const exportSheetName = "Results"

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
	}
}

// ExportQuizResults builds an xlsx workbook with one row per finished
// attempt of the quiz, newest first.
func (s *exportService) ExportQuizResults(ctx context.Context, quizID uint, userID string) ([]byte, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	canManage, err := s.canManageQuiz(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, quizID, "quiz", "export_results", "not quiz owner or insufficient permissions")
	}

	attempts, err := s.getFinishedAttempts(ctx, quizID)
	if err != nil {
		return nil, err
	}

	userNames := s.resolveUserNames(ctx, attempts)

	file := excelize.NewFile()
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Warn("Failed to close export workbook", "error", err)
		}
	}()

	if err := file.SetSheetName("Sheet1", exportSheetName); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headers := []interface{}{
		"Student", "Email", "Attempt #", "Status", "Score", "Max Score",
		"Percentage", "Passed", "Fully Graded", "Time Taken (s)", "Started At", "Completed At",
	}
	if err := file.SetSheetRow(exportSheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	for i, attempt := range attempts {
		name := attempt.UserID
		email := ""
		if user, ok := userNames[attempt.UserID]; ok {
			name = user.FullName
			email = user.Email
		}

		completedAt := ""
		if attempt.CompletedAt != nil {
			completedAt = attempt.CompletedAt.Format(time.RFC3339)
		}

		row := []interface{}{
			name,
			email,
			attempt.AttemptNumber,
			string(attempt.Status),
			attempt.Score,
			attempt.MaxScore,
			attempt.Percentage,
			attempt.Passed,
			attempt.FullyGraded,
			attempt.TimeTaken,
			attempt.StartedAt.Format(time.RFC3339),
			completedAt,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := file.SetSheetRow(exportSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	s.logger.Info("Quiz results exported",
		"quiz_id", quizID,
		"attempts", len(attempts),
		"user_id", userID)

	return buf.Bytes(), nil
}

func (s *exportService) getFinishedAttempts(ctx context.Context, quizID uint) ([]*models.QuizAttempt, error) {
	completed := models.AttemptCompleted
	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		QuizID:    &quizID,
		Status:    &completed,
		SortBy:    "completed_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// resolveUserNames is best effort, export falls back to raw user ids
// when the identity provider is unavailable.
func (s *exportService) resolveUserNames(ctx context.Context, attempts []*models.QuizAttempt) map[string]*models.User {
	seen := make(map[string]struct{}, len(attempts))
	ids := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		if _, ok := seen[attempt.UserID]; ok {
			continue
		}
		seen[attempt.UserID] = struct{}{}
		ids = append(ids, attempt.UserID)
	}
	if len(ids) == 0 {
		return nil
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve user names for export", "error", err)
		return nil
	}

	byID := make(map[string]*models.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	return byID
}

func (s *exportService) canManageQuiz(ctx context.Context, quiz *models.Quiz, userID string) (bool, error) {
	if quiz.CreatedBy == userID {
		return true, nil
	}
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role == models.RoleAdmin, nil
}
