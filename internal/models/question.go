package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// QuestionKind is a closed set. Adding a kind requires a matching
// content schema below and an evaluator in the scoring service.
type QuestionKind string

const (
	SingleChoice   QuestionKind = "single_choice"
	MultipleChoice QuestionKind = "multiple_choice"
	TrueFalse      QuestionKind = "true_false"
	FillBlank      QuestionKind = "fill_blank"
	Essay          QuestionKind = "essay"
)

func (k QuestionKind) Valid() bool {
	switch k {
	case SingleChoice, MultipleChoice, TrueFalse, FillBlank, Essay:
		return true
	}
	return false
}

// RequiresManualGrading reports whether answers of this kind are left
// ungraded by the automatic scorer.
func (k QuestionKind) RequiresManualGrading() bool {
	return k == Essay
}

type Question struct {
	ID     uint         `json:"id" gorm:"primaryKey"`
	QuizID uint         `json:"quiz_id" gorm:"not null;index"`
	Kind   QuestionKind `json:"kind" gorm:"not null;index"`
	Text   string       `json:"text" gorm:"type:text;not null" validate:"required"`
	Points float64      `json:"points" gorm:"not null" validate:"gt=0"`

	// Position within the quiz's canonical order. Per-attempt order is
	// snapshotted on the attempt itself when shuffling is on.
	Position int  `json:"position" gorm:"default:0"`
	IsActive bool `json:"is_active" gorm:"default:true;index"`

	// Kind-specific payload stored as JSONB
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	Explanation *string   `json:"explanation" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Relations
	Quiz Quiz `json:"quiz" gorm:"foreignKey:QuizID"`
}

func (Question) TableName() string {
	return "questions"
}

// ===== QUESTION CONTENT SCHEMAS =====

// ChoiceContent backs both single_choice and multiple_choice questions.
// For single_choice exactly one option id must be listed as correct.
type ChoiceContent struct {
	Options          []ChoiceOption `json:"options" validate:"min=2,max=10"`
	CorrectOptionIDs []string       `json:"correct_option_ids" validate:"min=1"`
	ShuffleOptions   bool           `json:"shuffle_options"`
}

type ChoiceOption struct {
	ID    string `json:"id"`
	Text  string `json:"text" validate:"required"`
	Order int    `json:"order"`
}

type TrueFalseContent struct {
	CorrectAnswer bool `json:"correct_answer"`
}

type FillBlankContent struct {
	Template string              `json:"template"` // "The capital of {b1} is {b2}"
	Blanks   map[string]BlankDef `json:"blanks" validate:"min=1"`
}

type BlankDef struct {
	AcceptedAnswers []string `json:"accepted_answers" validate:"min=1"`
}

type EssayContent struct {
	MinWords     *int     `json:"min_words"`
	MaxWords     *int     `json:"max_words"`
	RubricNotes  []string `json:"rubric_notes"`
	SampleAnswer *string  `json:"sample_answer"`
}

// ===== ANSWER PAYLOAD SCHEMAS =====

// ChoiceAnswer is the submitted payload for choice questions. A single
// choice answer carries exactly one selected id.
type ChoiceAnswer struct {
	SelectedOptionIDs []string `json:"selected_option_ids"`
}

type TrueFalseAnswer struct {
	Value bool `json:"value"`
}

type FillBlankAnswer struct {
	Blanks map[string]string `json:"blanks"`
}

type EssayAnswer struct {
	Text string `json:"text"`
}

// ValidateChoiceContent enforces the single/multiple correct-count
// invariant that JSONB storage cannot express.
func ValidateChoiceContent(kind QuestionKind, content *ChoiceContent) error {
	ids := make(map[string]bool, len(content.Options))
	for _, opt := range content.Options {
		if ids[opt.ID] {
			return fmt.Errorf("duplicate option id %q", opt.ID)
		}
		ids[opt.ID] = true
	}
	for _, correct := range content.CorrectOptionIDs {
		if !ids[correct] {
			return fmt.Errorf("correct option id %q not among options", correct)
		}
	}
	if kind == SingleChoice && len(content.CorrectOptionIDs) != 1 {
		return fmt.Errorf("single choice question must have exactly one correct option, got %d", len(content.CorrectOptionIDs))
	}
	return nil
}
