package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	// Quiz errors
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuizNotAvailable = errors.New("quiz is not available")
	ErrQuizHasAttempts  = errors.New("quiz has recorded attempts")
	ErrQuizNotPublished = errors.New("quiz is not published")

	// Question errors
	ErrQuestionNotFound   = errors.New("question not found")
	ErrQuizHasNoQuestions = errors.New("quiz has no active questions")

	// Attempt errors
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptAlreadySubmitted = errors.New("attempt has already been submitted")
	ErrAttemptTimeExpired      = errors.New("attempt time has expired")
	ErrAttemptLimitReached     = errors.New("maximum attempts reached")
	ErrAttemptCannotStart      = errors.New("attempt cannot be started")

	// Grading errors
	ErrAnswerNotFound    = errors.New("answer not found")
	ErrGradingNotAllowed = errors.New("answer cannot be graded")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ===== TYPED ERRORS =====

// PermissionError carries who tried what on which resource
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d: %s",
		e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return ErrForbidden
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError marks a domain rule violation that is not a plain
// validation failure
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}
