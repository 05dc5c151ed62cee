// internal/handlers/account.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

type AccountHandler struct {
	accountService      *services.AccountService
	notificationService *services.NotificationService
}

func NewAccountHandler(accountService *services.AccountService, notificationService *services.NotificationService) *AccountHandler {
	return &AccountHandler{
		accountService:      accountService,
		notificationService: notificationService,
	}
}

// PUT /account/profile
func (h *AccountHandler) UpdateProfile(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req services.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	profile, err := h.accountService.UpdateProfile(c.Request.Context(), identity.AccountID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyAccountProfileUpdated),
		"account": profile,
	})
}

// GET /agents
func (h *AccountHandler) ListAgents(c *gin.Context) {
	agents, err := h.accountService.ListAgents(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, agents)
}

// GET /notifications?unread=true
func (h *AccountHandler) ListNotifications(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))

	notifications, err := h.notificationService.ListNotifications(c.Request.Context(), identity.AccountID, unreadOnly)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, notifications)
}

// PUT /notifications/:id/read
func (h *AccountHandler) MarkNotificationRead(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	id, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), id, identity.AccountID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"id": id})
}
