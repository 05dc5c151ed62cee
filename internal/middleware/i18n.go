// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/export-registry/internal/i18n"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("lang", preferredLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// preferredLanguage picks the first supported entry of an Accept-Language
// header such as "fr-FR,fr;q=0.9,en;q=0.8".
func preferredLanguage(header string) string {
	supported := i18n.GetSupportedLanguages()

	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.Split(part, ";")[0])
		base := strings.ToLower(strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0])
		for _, lang := range supported {
			if base == lang {
				return lang
			}
		}
	}
	return i18n.DefaultLanguage()
}
