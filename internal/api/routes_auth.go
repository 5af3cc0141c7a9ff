package api

import (
	"github.com/gin-gonic/gin"

	"github.com/campuspilot/backend/internal/handlers"
	"github.com/campuspilot/backend/internal/middleware"
	"github.com/campuspilot/backend/internal/models"
)

func registerAuthRoutes(engine *gin.Engine, authHandler *handlers.AuthHandler, deps Dependencies) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/verify-email", authHandler.VerifyEmail)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh-token", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/verify-reset-code", authHandler.VerifyResetCode)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	requireAuth := middleware.Auth(deps.JWT, deps.Issuer, deps.Roles)

	api := engine.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	api.GET("/audit", middleware.RequireRole(models.RoleAdmin), auditHandler.List)
	api.GET("/audit/me", auditHandler.ListMine)
}
