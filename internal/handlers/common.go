// internal/handlers/common.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/export-registry/internal/i18n"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/services"
	"github.com/javajoker/export-registry/internal/utils"
)

// currentIdentity reads the caller set by the auth middleware and answers 401
// when it is missing.
func currentIdentity(c *gin.Context) (services.Identity, bool) {
	accountID, ok := utils.GetAccountIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return services.Identity{}, false
	}
	role, _ := utils.GetRoleFromContext(c)
	return services.Identity{AccountID: accountID, Role: models.AccountRole(role)}, true
}

// bindJSON decodes the body and runs struct validation, answering 400 on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)

	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), gin.H{"body": err.Error()})
		return false
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

// statusQuery parses an optional ?status= filter.
func statusQuery(c *gin.Context) (*models.CaseStatus, bool) {
	raw := c.Query("status")
	if raw == "" {
		return nil, true
	}
	status := models.CaseStatus(raw)
	if !status.IsValid() {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "status"), nil)
		return nil, false
	}
	return &status, true
}
