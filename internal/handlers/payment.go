// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

// PaymentHandler drives the registration fee of a case.
type PaymentHandler struct {
	caseService *services.CaseService
}

func NewPaymentHandler(caseService *services.CaseService) *PaymentHandler {
	return &PaymentHandler{
		caseService: caseService,
	}
}

// POST /cases/:id/payment
func (h *PaymentHandler) RequestPayment(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.caseService.RequestPayment(c.Request.Context(), caseID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyPaymentRequested),
		"payment": result,
	})
}

// POST /cases/:id/payment/confirm
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	caseID, ok := utils.ParseUUIDParam(c, "id")
	if !ok {
		return
	}

	registrationCase, err := h.caseService.ConfirmPayment(c.Request.Context(), caseID, identity.AccountID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyPaymentConfirmed),
		"case":    registrationCase,
	})
}
