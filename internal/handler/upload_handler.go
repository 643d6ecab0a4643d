package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edurisk-api/internal/dto"
	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/internal/service"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
	"github.com/noah-isme/edurisk-api/pkg/response"
)

// UploadHandler exposes the ingestion pipeline endpoints.
type UploadHandler struct {
	uploads  *service.UploadService
	rollback *service.RollbackService
	reports  *service.ReportService
}

// NewUploadHandler constructs UploadHandler.
func NewUploadHandler(uploads *service.UploadService, rollback *service.RollbackService, reports *service.ReportService) *UploadHandler {
	return &UploadHandler{uploads: uploads, rollback: rollback, reports: reports}
}

// Create godoc
// @Summary Upload a student data file
// @Tags Uploads
// @Accept mpfd
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Param options formData string false "JSON upload options (mapping, strict, abort_on_error)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart field 'file' is required"))
		return
	}

	var options dto.UploadOptions
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "options must be valid JSON"))
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	input := service.UploadInput{
		FileName:   fileHeader.Filename,
		Size:       fileHeader.Size,
		Content:    file,
		Mapping:    toColumnMapping(options.Mapping),
		UploadedBy: actorFromContext(c),
	}
	if options.Strict != nil || options.AbortOnError != nil {
		policy := models.CommitPolicy{AdmitWarnings: true}
		if options.Strict != nil {
			policy.AdmitWarnings = !*options.Strict
		}
		if options.AbortOnError != nil {
			policy.AbortOnError = *options.AbortOnError
		}
		input.Policy = &policy
	}

	outcome, err := h.uploads.Submit(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if outcome.Manifest.Status == models.UploadStatusProcessing {
		status = http.StatusAccepted
	}
	response.JSON(c, status, outcome, nil)
}

// List godoc
// @Summary List upload history
// @Tags Uploads
// @Produce json
// @Param status query string false "Filter by status (comma separated)"
// @Param uploadedBy query string false "Filter by uploader"
// @Param from query string false "Uploaded at or after (RFC3339)"
// @Param to query string false "Uploaded before (RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /uploads [get]
func (h *UploadHandler) List(c *gin.Context) {
	var filter models.UploadFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range splitCSV(raw) {
			filter.Status = append(filter.Status, models.UploadStatus(s))
		}
	}
	filter.UploadedBy = c.Query("uploadedBy")
	if raw := c.Query("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = &t
		}
	}
	if raw := c.Query("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = &t
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	manifests, pagination, err := h.uploads.History(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, manifests, pagination)
}

// Get godoc
// @Summary Get one upload with row results
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /uploads/{id} [get]
func (h *UploadHandler) Get(c *gin.Context) {
	outcome, err := h.uploads.GetUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Report godoc
// @Summary Download an upload outcome report
// @Tags Uploads
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Upload ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /uploads/{id}/report [get]
func (h *UploadHandler) Report(c *gin.Context) {
	format := service.ReportFormat(c.DefaultQuery("format", "csv"))
	file, err := h.reports.UploadReport(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// RequestRollback godoc
// @Summary Preview a rollback and obtain a confirmation token
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /uploads/{id}/rollback [post]
func (h *UploadHandler) RequestRollback(c *gin.Context) {
	preview, err := h.rollback.Request(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// ConfirmRollback godoc
// @Summary Confirm and apply a rollback
// @Tags Uploads
// @Accept json
// @Produce json
// @Param id path string true "Upload ID"
// @Param payload body dto.RollbackConfirmRequest true "Confirmation token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /uploads/{id}/rollback/confirm [post]
func (h *UploadHandler) ConfirmRollback(c *gin.Context) {
	var req dto.RollbackConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "confirmation token is required"))
		return
	}
	manifest, err := h.rollback.Confirm(c.Request.Context(), c.Param("id"), req.Token, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, manifest, nil)
}

func toColumnMapping(raw map[string]string) models.ColumnMapping {
	if len(raw) == 0 {
		return nil
	}
	mapping := models.ColumnMapping{}
	for header, field := range raw {
		mapping[header] = models.FieldName(field)
	}
	return mapping
}
