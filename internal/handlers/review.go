// internal/handlers/review.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

// ReviewHandler serves the agent desk: queues, document checks and decisions.
type ReviewHandler struct {
	caseService  *services.CaseService
	queryService *services.CaseQueryService
}

func NewReviewHandler(caseService *services.CaseService, queryService *services.CaseQueryService) *ReviewHandler {
	return &ReviewHandler{
		caseService:  caseService,
		queryService: queryService,
	}
}

type validateDocumentRequest struct {
	Accept  *bool  `json:"accept" validate:"required"`
	Comment string `json:"comment" validate:"max=2000"`
}

type infoRequestRequest struct {
	Message     string      `json:"message" validate:"required,max=4000"`
	DocumentIDs []uuid.UUID `json:"document_ids"`
}

type decisionRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Comment string `json:"comment" validate:"max=4000"`
}

// GET /review/cases?status=
func (h *ReviewHandler) ListAssigned(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	status, ok := statusQuery(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	cases, total, err := h.queryService.ListByAgent(c.Request.Context(), identity.AccountID, status, params.Repository())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(cases, total, params))
}

// GET /review/queue
func (h *ReviewHandler) ListUnassigned(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	cases, total, err := h.queryService.ListUnassigned(c.Request.Context(), params.Repository())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(cases, total, params))
}

// GET /review/statistics
func (h *ReviewHandler) GetStatistics(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	stats, err := h.queryService.AgentStatistics(c.Request.Context(), identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, stats)
}

// POST /review/cases/:id/claim
func (h *ReviewHandler) ClaimCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	registrationCase, err := h.caseService.AssignCase(c.Request.Context(), caseID, identity.AccountID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseAssigned),
		"case":    registrationCase,
	})
}

// POST /review/cases/:id/start
func (h *ReviewHandler) StartReview(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	registrationCase, err := h.caseService.StartReview(c.Request.Context(), caseID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseReviewStarted),
		"case":    registrationCase,
	})
}

// GET /review/cases/:id/document-counts
func (h *ReviewHandler) GetDocumentCounts(c *gin.Context) {
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	counts, err := h.queryService.DocumentCounts(c.Request.Context(), caseID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, counts)
}

// POST /review/documents/:id/validate
func (h *ReviewHandler) ValidateDocument(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	docID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req validateDocumentRequest
	if !bindJSON(c, &req) {
		return
	}

	doc, err := h.caseService.ValidateDocument(c.Request.Context(), docID, identity.AccountID, req.Comment, *req.Accept)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":  i18n.T(utils.GetLangFromContext(c), i18n.KeyDocumentValidated),
		"document": doc,
	})
}

// POST /review/cases/:id/info-request
func (h *ReviewHandler) RequestInfo(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req infoRequestRequest
	if !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.RequestAdditionalInfo(c.Request.Context(), caseID, identity.AccountID, req.Message, req.DocumentIDs)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseInfoRequested),
		"case":    registrationCase,
	})
}

// POST /review/cases/:id/decision
func (h *ReviewHandler) Decide(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req decisionRequest
	if !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.Decide(c.Request.Context(), caseID, identity.AccountID, *req.Approve, req.Comment)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseDecided),
		"case":    registrationCase,
	})
}
