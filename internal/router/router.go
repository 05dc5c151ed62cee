// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/handlers"
	"github.com/javajoker/export-registry/internal/middleware"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/services"
)

// Services are the application services the HTTP layer dispatches to.
type Services struct {
	Auth          *services.AuthService
	Accounts      *services.AccountService
	Admin         *services.AdminService
	Products      *services.ProductService
	Cases         *services.CaseService
	Queries       *services.CaseQueryService
	Notifications *services.NotificationService
}

func Initialize(cfg *config.Config, store repository.Store, svc Services, gatherer prometheus.Gatherer) *gin.Engine {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth, svc.Accounts)
	accountHandler := handlers.NewAccountHandler(svc.Accounts, svc.Notifications)
	productHandler := handlers.NewProductHandler(svc.Products)
	caseHandler := handlers.NewCaseHandler(svc.Cases, svc.Queries, cfg.Storage.MaxFileSize)
	paymentHandler := handlers.NewPaymentHandler(svc.Cases)
	reviewHandler := handlers.NewReviewHandler(svc.Cases, svc.Queries)
	adminHandler := handlers.NewAdminHandler(svc.Admin, svc.Cases, svc.Queries)

	authRequired := middleware.AuthRequired(svc.Auth)
	exporterOnly := middleware.RoleRequired(models.RoleExporter)
	staffOnly := middleware.RoleRequired(models.RoleAgent, models.RoleAdmin)

	// Initialize Gin router
	r := gin.New()
	r.MaxMultipartMemory = cfg.Storage.MaxFileSize + 1<<20

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(store))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/logout", authRequired, authHandler.Logout)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", authRequired, authHandler.GetProfile)
			auth.PUT("/change-password", authRequired, authHandler.ChangePassword)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.GET("/validate-reset-token", authHandler.ValidateResetToken)
			auth.POST("/reset-password", authHandler.ResetPassword)
			auth.POST("/verify-email", authHandler.VerifyEmail)
			auth.POST("/resend-verification", authHandler.ResendVerification)
		}

		// Account routes
		account := v1.Group("")
		account.Use(authRequired)
		{
			account.PUT("/account/profile", accountHandler.UpdateProfile)
			account.GET("/notifications", accountHandler.ListNotifications)
			account.PUT("/notifications/:id/read", accountHandler.MarkNotificationRead)
			account.GET("/agents", staffOnly, accountHandler.ListAgents)
		}

		// Product declaration routes
		products := v1.Group("/products")
		products.Use(authRequired, exporterOnly)
		{
			products.GET("", productHandler.GetProducts)
			products.POST("", productHandler.CreateProduct)
			products.GET("/:id", productHandler.GetProduct)
			products.PUT("/:id", productHandler.UpdateProduct)
			products.DELETE("/:id", productHandler.DeleteProduct)
		}

		// Case routes
		cases := v1.Group("/cases")
		cases.Use(authRequired)
		{
			cases.GET("/:id", caseHandler.GetCase)
			cases.GET("/:id/history", caseHandler.GetHistory)
			cases.GET("/:id/completeness", caseHandler.GetCompleteness)

			applicant := cases.Group("")
			applicant.Use(exporterOnly)
			{
				applicant.GET("", caseHandler.ListMyCases)
				applicant.POST("", caseHandler.CreateCase)
				applicant.POST("/:id/submit", caseHandler.SubmitCase)
				applicant.POST("/:id/documents", middleware.UploadRateLimit(), caseHandler.UploadDocument)
				applicant.POST("/:id/info-response", caseHandler.RespondToInfoRequest)
				applicant.POST("/:id/payment", paymentHandler.RequestPayment)
				applicant.POST("/:id/payment/confirm", paymentHandler.ConfirmPayment)
			}
		}
		v1.GET("/references/:reference", authRequired, caseHandler.FindByReference)
		v1.GET("/documents/:id/download", authRequired, caseHandler.DownloadDocument)

		// Agent review routes
		review := v1.Group("/review")
		review.Use(authRequired, middleware.RoleRequired(models.RoleAgent))
		{
			review.GET("/cases", reviewHandler.ListAssigned)
			review.GET("/queue", reviewHandler.ListUnassigned)
			review.GET("/statistics", reviewHandler.GetStatistics)
			review.POST("/cases/:id/claim", reviewHandler.ClaimCase)
			review.POST("/cases/:id/start", reviewHandler.StartReview)
			review.GET("/cases/:id/document-counts", reviewHandler.GetDocumentCounts)
			review.POST("/cases/:id/info-request", reviewHandler.RequestInfo)
			review.POST("/cases/:id/decision", reviewHandler.Decide)
			review.POST("/documents/:id/validate", reviewHandler.ValidateDocument)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(authRequired, middleware.AdminRequired())
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)

			// Account management
			admin.GET("/accounts", adminHandler.GetAccounts)
			admin.PUT("/accounts/:id/status", adminHandler.UpdateAccountStatus)
			admin.POST("/agents", adminHandler.CreateAgent)

			// Case oversight
			admin.GET("/cases", adminHandler.ListCases)
			admin.GET("/cases/statistics", adminHandler.GetCaseStatistics)
			admin.POST("/cases/:id/assign", adminHandler.AssignCase)
			admin.POST("/cases/:id/suspend", adminHandler.SuspendCase)

			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
		}
	}

	return r
}
