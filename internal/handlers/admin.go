// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
	caseService  *services.CaseService
	queryService *services.CaseQueryService
}

func NewAdminHandler(adminService *services.AdminService, caseService *services.CaseService, queryService *services.CaseQueryService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		caseService:  caseService,
		queryService: queryService,
	}
}

type updateAccountStatusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=active suspended"`
	Reason string               `json:"reason" validate:"max=1000"`
}

type assignCaseRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
}

type suspendCaseRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/cases/statistics
func (h *AdminHandler) GetCaseStatistics(c *gin.Context) {
	stats, err := h.queryService.Statistics(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, stats)
}

// GET /admin/cases?status=
func (h *AdminHandler) ListCases(c *gin.Context) {
	status, ok := statusQuery(c)
	if !ok {
		return
	}
	if status == nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "status"), nil)
		return
	}
	params := utils.GetPaginationParams(c)

	cases, total, err := h.queryService.ListByStatus(c.Request.Context(), *status, params.Repository())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(cases, total, params))
}

// GET /admin/accounts?role=
func (h *AdminHandler) GetAccounts(c *gin.Context) {
	role := models.AccountRole(c.DefaultQuery("role", string(models.RoleExporter)))

	accounts, err := h.adminService.ListAccounts(c.Request.Context(), role)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, accounts)
}

// POST /admin/agents
func (h *AdminHandler) CreateAgent(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req services.CreateAgentRequest
	if !bindJSON(c, &req) {
		return
	}

	agent, err := h.adminService.CreateAgent(c.Request.Context(), identity.AccountID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.CreatedResponse(c, agent)
}

// PUT /admin/accounts/:id/status
func (h *AdminHandler) UpdateAccountStatus(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	accountID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req updateAccountStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := h.adminService.UpdateAccountStatus(c.Request.Context(), accountID, req.Status, identity.AccountID, req.Reason)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, account)
}

// POST /admin/cases/:id/assign
func (h *AdminHandler) AssignCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req assignCaseRequest
	if !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.AssignCase(c.Request.Context(), caseID, req.AgentID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseAssigned),
		"case":    registrationCase,
	})
}

// POST /admin/cases/:id/suspend
func (h *AdminHandler) SuspendCase(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req suspendCaseRequest
	if !bindJSON(c, &req) {
		return
	}

	registrationCase, err := h.caseService.SuspendCase(c.Request.Context(), caseID, identity.AccountID, req.Reason)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyCaseSuspended),
		"case":    registrationCase,
	})
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	logs, total, err := h.adminService.ListAuditLogs(c.Request.Context(), params)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(logs, total, params))
}
