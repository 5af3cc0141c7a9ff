package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/app"
	iauth "github.com/campuspilot/backend/internal/auth"
	"github.com/campuspilot/backend/internal/handlers"
	"github.com/campuspilot/backend/internal/middleware"
	"github.com/campuspilot/backend/internal/services"
)

// Dependencies carries the constructed services the router wires into handlers.
type Dependencies struct {
	DB          *gorm.DB
	Config      *app.Config
	JWT         *iauth.JWTService
	Issuer      *iauth.SessionIssuer
	Ledger      *iauth.TokenLedger
	Credentials *iauth.CredentialService
	OTP         *iauth.OTPService
	Roles       *services.RoleResolver
	Audit       *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
// The CRUD modules of the platform mount their own routers under /api.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil || deps.Issuer == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("jwt service, session issuer and token ledger must be provided")
	}
	if deps.Credentials == nil || deps.OTP == nil || deps.Roles == nil || deps.Audit == nil {
		return nil, fmt.Errorf("credential, otp, role and audit services must be provided")
	}

	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins...))
	r.Use(middleware.RateLimit(deps.Config.Server.RateLimit.MaxRequests, deps.Config.Server.RateLimit.Window))

	r.NoRoute(middleware.NotFoundHandler)

	registerHealthRoutes(r, deps.DB)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler, err := handlers.NewAuthHandler(handlers.AuthHandlerConfig{
		Credentials: deps.Credentials,
		OTP:         deps.OTP,
		Issuer:      deps.Issuer,
		Ledger:      deps.Ledger,
		Roles:       deps.Roles,
		Audit:       deps.Audit,
		EchoCodes:   !deps.Config.IsProduction(),
	})
	if err != nil {
		return nil, err
	}

	registerAuthRoutes(r, authHandler, deps)

	return r, nil
}
