// internal/handlers/case.go
package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

// CaseHandler serves the applicant side of a registration case and the
// read endpoints shared with staff.
type CaseHandler struct {
	caseService  *services.CaseService
	queryService *services.CaseQueryService
	maxFileSize  int64
}

func NewCaseHandler(caseService *services.CaseService, queryService *services.CaseQueryService, maxFileSize int64) *CaseHandler {
	return &CaseHandler{
		caseService:  caseService,
		queryService: queryService,
		maxFileSize:  maxFileSize,
	}
}

type createCaseRequest struct {
	Track models.CaseTrack `json:"track" validate:"omitempty,case_track"`
}

type infoResponseRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// POST /cases
func (h *CaseHandler) CreateCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req createCaseRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.CreateCase(c.Request.Context(), identity.AccountID, req.Track)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseCreated),
		"case":    registrationCase,
	})
}

// GET /cases
func (h *CaseHandler) ListMyCases(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	cases, total, err := h.queryService.ListByApplicant(c.Request.Context(), identity.AccountID, params.Repository())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(cases, total, params))
}

// GET /cases/:id
func (h *CaseHandler) GetCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.queryService.GetCase(c.Request.Context(), caseID, identity)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, detail)
}

// GET /cases/reference/:reference
func (h *CaseHandler) FindByReference(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	registrationCase, err := h.queryService.FindByReference(c.Request.Context(), c.Param("reference"), identity)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, registrationCase)
}

// GET /cases/:id/history
func (h *CaseHandler) GetHistory(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	history, err := h.queryService.History(c.Request.Context(), caseID, identity)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, history)
}

// GET /cases/:id/completeness
func (h *CaseHandler) GetCompleteness(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	report, err := h.queryService.Completeness(c.Request.Context(), caseID, identity)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, report)
}

// POST /cases/:id/submit
func (h *CaseHandler) SubmitCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	registrationCase, err := h.caseService.SubmitCase(c.Request.Context(), caseID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseSubmitted),
		"case":    registrationCase,
	})
}

// POST /cases/:id/documents (multipart: file, document_type, product_id)
func (h *CaseHandler) UploadDocument(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), nil)
		return
	}
	defer file.Close()

	// One byte over the limit is enough for the service to refuse the upload
	content, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "file"), nil)
		return
	}

	input := services.UploadDocumentInput{
		CaseID:       caseID,
		ApplicantID:  identity.AccountID,
		DocumentType: models.DocumentType(c.PostForm("document_type")),
		FileName:     header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Content:      content,
	}
	if raw := c.PostForm("product_id"); raw != "" {
		productID, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "product_id"), nil)
			return
		}
		input.ProductID = &productID
	}

	doc, err := h.caseService.UploadDocument(c.Request.Context(), input)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyDocumentUploaded),
		"document": doc,
	})
}

// GET /documents/:id/download
func (h *CaseHandler) DownloadDocument(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	docID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	doc, content, err := h.queryService.DownloadDocument(c.Request.Context(), docID, identity)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	c.Data(http.StatusOK, mimeType, content)
}

// POST /cases/:id/info-response
func (h *CaseHandler) RespondToInfoRequest(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req infoResponseRequest
	if !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.RespondToInfoRequest(c.Request.Context(), caseID, identity.AccountID, req.Comment)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseInfoProvided),
		"case":    registrationCase,
	})
}
