package handlers

import (
	"net/http"

	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/services"
	"github.com/coursehub/quiz-service/internal/utils"
	"github.com/coursehub/quiz-service/internal/validator"
	"github.com/gin-gonic/gin"
)

type GradingHandler struct {
	BaseHandler
	scoringService services.ScoringService
	validator      *validator.Validator
}

func NewGradingHandler(
	scoringService services.ScoringService,
	validator *validator.Validator,
	logger utils.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		scoringService: scoringService,
		validator:      validator,
	}
}

// GradeAnswer manually grades an answer
// @Summary Grade answer
// @Description Records a manual grade for an answer, typically an essay
// @Tags grading
// @Accept json
// @Produce json
// @Param answer_id path uint true "Answer ID"
// @Param grade body services.GradeAnswerRequest true "Grade data"
// @Success 200 {object} services.GradingResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grading/answers/{answer_id} [post]
func (h *GradingHandler) GradeAnswer(c *gin.Context) {
	answerID := h.parseIDParam(c, "answer_id")
	if answerID == 0 {
		return
	}

	h.LogRequest(c, "Grading answer", "answer_id", answerID)

	var req services.GradeAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	result, err := h.scoringService.GradeAnswer(c.Request.Context(), answerID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RescoreAttempt recomputes an attempt's score
// @Summary Rescore attempt
// @Tags grading
// @Produce json
// @Param attempt_id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptScoreResult
// @Failure 404 {object} ErrorResponse
// @Router /grading/attempts/{attempt_id}/rescore [post]
func (h *GradingHandler) RescoreAttempt(c *gin.Context) {
	attemptID := h.parseIDParam(c, "attempt_id")
	if attemptID == 0 {
		return
	}

	h.LogRequest(c, "Rescoring attempt", "attempt_id", attemptID)

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	result, err := h.scoringService.RescoreAttempt(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetPendingGrading lists answers awaiting manual grading for a quiz
// @Summary Get pending grading
// @Tags grading
// @Produce json
// @Param quiz_id path uint true "Quiz ID"
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(10)
// @Success 200 {object} []models.Answer
// @Failure 403 {object} ErrorResponse
// @Router /grading/quizzes/{quiz_id}/pending [get]
func (h *GradingHandler) GetPendingGrading(c *gin.Context) {
	quizID := h.parseIDParam(c, "quiz_id")
	if quizID == 0 {
		return
	}

	h.LogRequest(c, "Getting pending grading", "quiz_id", quizID)

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 10)
	filters := repositories.AnswerFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}

	answers, err := h.scoringService.GetPendingGrading(c.Request.Context(), quizID, filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answers)
}

// GetGradingStats retrieves grading progress for a quiz
// @Summary Get grading statistics
// @Tags grading
// @Produce json
// @Param quiz_id path uint true "Quiz ID"
// @Success 200 {object} SuccessResponse{data=repositories.GradingStats}
// @Failure 403 {object} ErrorResponse
// @Router /grading/quizzes/{quiz_id}/stats [get]
func (h *GradingHandler) GetGradingStats(c *gin.Context) {
	quizID := h.parseIDParam(c, "quiz_id")
	if quizID == 0 {
		return
	}

	h.LogRequest(c, "Getting grading stats", "quiz_id", quizID)

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	stats, err := h.scoringService.GetGradingStats(c.Request.Context(), quizID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Grading stats retrieved successfully",
		Data:    stats,
	})
}
