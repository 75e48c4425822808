package validator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursehub/quiz-service/internal/models"
)

// BusinessValidator handles rules that span more than one field or
// need existing state to evaluate.
type BusinessValidator struct {
	base *Validator
}

func NewBusinessValidator(base *Validator) *BusinessValidator {
	return &BusinessValidator{base: base}
}

// ValidateQuizCreate validates quiz creation requests.
func (bv *BusinessValidator) ValidateQuizCreate(req *models.QuizCreateRequest) ValidationErrors {
	errors := ToValidationErrors(bv.base.Validate(req))
	errors = append(errors, bv.validateWindow(req.AvailableFrom, req.AvailableUntil)...)
	return errors
}

// ValidateQuizUpdate validates quiz updates against the stored quiz.
func (bv *BusinessValidator) ValidateQuizUpdate(req *models.QuizUpdateRequest, existing *models.Quiz) ValidationErrors {
	errors := ToValidationErrors(bv.base.Validate(req))

	from := existing.AvailableFrom
	until := existing.AvailableUntil
	if req.AvailableFrom != nil {
		from = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		until = req.AvailableUntil
	}
	errors = append(errors, bv.validateWindow(from, until)...)

	// Scoring parameters are frozen once attempts exist so that stored
	// results keep meaning what they meant when recorded.
	if existing.AttemptCount > 0 {
		if req.PassingScore != nil && *req.PassingScore != existing.PassingScore {
			errors = append(errors, ValidationError{
				Field:   "passing_score",
				Message: "cannot be changed after attempts exist",
				Value:   *req.PassingScore,
				Rule:    "business_logic",
			})
		}
	}

	return errors
}

// ValidateQuestionCreate validates a question request including its
// kind-specific content payload.
func (bv *BusinessValidator) ValidateQuestionCreate(req *models.QuestionCreateRequest) ValidationErrors {
	errors := ToValidationErrors(bv.base.Validate(req))
	errors = append(errors, bv.ValidateQuestionContent(req.Kind, req.Content)...)
	return errors
}

// ValidateQuestionContent decodes and checks the JSONB payload for the
// given kind. Unknown kinds are rejected outright.
func (bv *BusinessValidator) ValidateQuestionContent(kind models.QuestionKind, raw json.RawMessage) ValidationErrors {
	var errors ValidationErrors

	switch kind {
	case models.SingleChoice, models.MultipleChoice:
		var content models.ChoiceContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return append(errors, contentError(err))
		}
		errors = append(errors, ToValidationErrors(bv.base.Validate(&content))...)
		if err := models.ValidateChoiceContent(kind, &content); err != nil {
			errors = append(errors, ValidationError{
				Field:   "content",
				Message: err.Error(),
				Rule:    "choice_content",
			})
		}
	case models.TrueFalse:
		var content models.TrueFalseContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return append(errors, contentError(err))
		}
	case models.FillBlank:
		var content models.FillBlankContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return append(errors, contentError(err))
		}
		if len(content.Blanks) == 0 {
			errors = append(errors, ValidationError{
				Field:   "content.blanks",
				Message: "must define at least one blank",
				Rule:    "fill_blank_content",
			})
		}
		for key, blank := range content.Blanks {
			if len(blank.AcceptedAnswers) == 0 {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("content.blanks.%s", key),
					Message: "must have at least one accepted answer",
					Rule:    "fill_blank_content",
				})
			}
		}
	case models.Essay:
		var content models.EssayContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return append(errors, contentError(err))
		}
		if content.MinWords != nil && content.MaxWords != nil && *content.MinWords > *content.MaxWords {
			errors = append(errors, ValidationError{
				Field:   "content.min_words",
				Message: "cannot exceed max_words",
				Rule:    "essay_content",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown question kind %q", kind),
			Value:   kind,
			Rule:    "question_kind",
		})
	}

	return errors
}

// ValidateStatusTransition checks the quiz lifecycle state machine.
func (bv *BusinessValidator) ValidateStatusTransition(current, next models.QuizStatus, questionCount int) ValidationErrors {
	var errors ValidationErrors

	allowed := map[models.QuizStatus][]models.QuizStatus{
		models.QuizDraft:    {models.QuizActive, models.QuizArchived},
		models.QuizActive:   {models.QuizDraft, models.QuizArchived},
		models.QuizArchived: {},
	}

	ok := false
	for _, s := range allowed[current] {
		if next == s {
			ok = true
			break
		}
	}
	if !ok {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", current, next),
			Value:   next,
			Rule:    "status_transition",
		})
	}

	if next == models.QuizActive && questionCount == 0 {
		errors = append(errors, ValidationError{
			Field:   "questions",
			Message: "quiz must have at least one active question before publishing",
			Value:   questionCount,
			Rule:    "business_logic",
		})
	}

	return errors
}

func (bv *BusinessValidator) validateWindow(from, until *time.Time) ValidationErrors {
	var errors ValidationErrors
	if from != nil && until != nil && !until.After(*from) {
		errors = append(errors, ValidationError{
			Field:   "available_until",
			Message: "must be after available_from",
			Value:   until,
			Rule:    "availability_window",
		})
	}
	return errors
}

func contentError(err error) ValidationError {
	return ValidationError{
		Field:   "content",
		Message: fmt.Sprintf("invalid content payload: %v", err),
		Rule:    "content_schema",
	}
}
