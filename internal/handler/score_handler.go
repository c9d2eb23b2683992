package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lzhao-dev/school-records-api/internal/models"
	"github.com/lzhao-dev/school-records-api/internal/service"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
	"github.com/lzhao-dev/school-records-api/pkg/response"
)

// ScoreHandler exposes exam result CRUD endpoints.
type ScoreHandler struct {
	service *service.ScoreService
}

// NewScoreHandler constructs a score handler.
func NewScoreHandler(svc *service.ScoreService) *ScoreHandler {
	return &ScoreHandler{service: svc}
}

// List godoc
// @Summary List scores
// @Tags Scores
// @Produce json
// @Security BearerAuth
// @Param grade_id query string false "Filter by grade"
// @Param search query string false "Match a student number or name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /scores [get]
func (h *ScoreHandler) List(c *gin.Context) {
	var filter models.ScoreFilter
	filter.GradeID = c.Query("grade_id")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	// A student session only ever sees its own rows. The login id of a
	// student credential is the student number.
	if claims, ok := claimsFromContext(c); ok && claims.Role == models.RoleStudent && !claims.IsSuperuser {
		filter.StudentNumber = claims.LoginID
	}

	scores, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "", scores, pagination)
}

// Get godoc
// @Summary Get score detail
// @Tags Scores
// @Produce json
// @Security BearerAuth
// @Param id path string true "Score ID"
// @Success 200 {object} response.Envelope
// @Router /scores/{id} [get]
func (h *ScoreHandler) Get(c *gin.Context) {
	score, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims, ok := claimsFromContext(c); ok && claims.Role == models.RoleStudent && !claims.IsSuperuser {
		if score.StudentNumber != claims.LoginID {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
	}
	response.OK(c, "", score)
}

// Create godoc
// @Summary Record an exam result
// @Tags Scores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.ScoreRequest true "Score payload"
// @Success 201 {object} response.Envelope
// @Router /scores [post]
func (h *ScoreHandler) Create(c *gin.Context) {
	var req service.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	score, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "score recorded", score)
}

// Update godoc
// @Summary Update an exam result
// @Tags Scores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Score ID"
// @Param payload body service.ScoreRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Router /scores/{id} [put]
func (h *ScoreHandler) Update(c *gin.Context) {
	var req service.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	score, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "score updated", score)
}

// Delete godoc
// @Summary Delete an exam result
// @Tags Scores
// @Produce json
// @Security BearerAuth
// @Param id path string true "Score ID"
// @Success 204
// @Router /scores/{id} [delete]
func (h *ScoreHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkDelete godoc
// @Summary Delete a batch of exam results
// @Tags Scores
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.BulkDeleteRequest true "Score ids"
// @Success 204
// @Router /scores [delete]
func (h *ScoreHandler) BulkDelete(c *gin.Context) {
	var req service.BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.BulkDelete(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
