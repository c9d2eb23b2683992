package handler

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lzhao-dev/school-records-api/internal/service"
	appErrors "github.com/lzhao-dev/school-records-api/pkg/errors"
	"github.com/lzhao-dev/school-records-api/pkg/excel"
	"github.com/lzhao-dev/school-records-api/pkg/response"
)

// TransferHandler exposes xlsx import and export endpoints.
type TransferHandler struct {
	service     *service.TransferService
	maxFileSize int64
}

// NewTransferHandler constructs a transfer handler.
func NewTransferHandler(svc *service.TransferService, maxFileSize int64) *TransferHandler {
	return &TransferHandler{service: svc, maxFileSize: maxFileSize}
}

// ExportStudents godoc
// @Summary Download students as an xlsx workbook
// @Tags Transfer
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param grade_id query string false "Limit to one grade"
// @Success 200 {file} binary
// @Router /students/export [get]
func (h *TransferHandler) ExportStudents(c *gin.Context) {
	content, err := h.service.ExportStudents(c.Request.Context(), c.Query("grade_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, service.StudentExportFilename, excel.ContentType, content)
}

// ExportScores godoc
// @Summary Download scores as an xlsx workbook
// @Tags Transfer
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param grade_id query string false "Limit to one grade"
// @Success 200 {file} binary
// @Router /scores/export [get]
func (h *TransferHandler) ExportScores(c *gin.Context) {
	content, err := h.service.ExportScores(c.Request.Context(), c.Query("grade_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, service.ScoreExportFilename, excel.ContentType, content)
}

// ImportStudents godoc
// @Summary Upload a student workbook
// @Tags Transfer
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "xlsx workbook"
// @Success 200 {object} response.Envelope
// @Router /students/import [post]
func (h *TransferHandler) ImportStudents(c *gin.Context) {
	file, err := h.openUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	imported, err := h.service.ImportStudents(c.Request.Context(), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fmt.Sprintf("%d students imported", imported), gin.H{"imported": imported})
}

// ImportScores godoc
// @Summary Upload a score workbook
// @Tags Transfer
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "xlsx workbook"
// @Success 200 {object} response.Envelope
// @Router /scores/import [post]
func (h *TransferHandler) ImportScores(c *gin.Context) {
	file, err := h.openUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	imported, err := h.service.ImportScores(c.Request.Context(), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fmt.Sprintf("%d scores imported", imported), gin.H{"imported": imported})
}

// openUpload enforces the upload preconditions shared by both imports: the
// "file" part must be present, carry the xlsx extension and stay within the
// configured size limit.
func (h *TransferHandler) openUpload(c *gin.Context) (multipart.File, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no file uploaded")
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), excel.Extension) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only xlsx workbooks are accepted")
	}
	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "file exceeds the upload size limit")
	}
	file, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload")
	}
	return file, nil
}
