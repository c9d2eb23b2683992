package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lzhao-dev/school-records-api/internal/models"
	"github.com/lzhao-dev/school-records-api/internal/service"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
	"github.com/lzhao-dev/school-records-api/pkg/export"
	"github.com/lzhao-dev/school-records-api/pkg/response"
)

// StudentHandler exposes student CRUD and transcript endpoints.
type StudentHandler struct {
	service *service.StudentService
	scores  *service.ScoreService
	pdf     *export.PDFExporter
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(svc *service.StudentService, scores *service.ScoreService, pdf *export.PDFExporter) *StudentHandler {
	return &StudentHandler{service: svc, scores: scores, pdf: pdf}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param grade_id query string false "Filter by grade"
// @Param search query string false "Search by name or number"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.GradeID = c.Query("grade_id")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	students, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "", students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", student)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.StudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "student created", student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body service.StudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.StudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "student updated", student)
}

// Delete godoc
// @Summary Delete student and its credential
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkDelete godoc
// @Summary Delete a batch of students
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.BulkDeleteRequest true "Student ids"
// @Success 204
// @Router /students [delete]
func (h *StudentHandler) BulkDelete(c *gin.Context) {
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

// Transcript godoc
// @Summary Download a student's exam history as PDF
// @Tags Students
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {file} binary
// @Router /students/{id}/transcript [get]
func (h *StudentHandler) Transcript(c *gin.Context) {
	student, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	scores, err := h.scores.ListByStudent(c.Request.Context(), student.StudentNumber)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(scores) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrEmptyExport, "no scores recorded for this student"))
		return
	}

	data := export.Dataset{Headers: []string{"Exam", "Chinese", "Math", "English", "Total"}}
	for _, sc := range scores {
		total := sc.ChineseScore + sc.MathScore + sc.EnglishScore
		data.Rows = append(data.Rows, []string{
			sc.ExamTitle,
			strconv.FormatFloat(sc.ChineseScore, 'f', -1, 64),
			strconv.FormatFloat(sc.MathScore, 'f', -1, 64),
			strconv.FormatFloat(sc.EnglishScore, 'f', -1, 64),
			strconv.FormatFloat(total, 'f', -1, 64),
		})
	}
	content, err := h.pdf.Render(data, "Transcript "+student.StudentNumber)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript"))
		return
	}
	filename := fmt.Sprintf("transcript-%s.pdf", student.StudentNumber)
	response.Attachment(c, filename, export.PDFContentType, content)
}
