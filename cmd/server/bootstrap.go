package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campuspilot/backend/internal/api"
	"github.com/campuspilot/backend/internal/app"
	"github.com/campuspilot/backend/internal/app/maintenance"
	iauth "github.com/campuspilot/backend/internal/auth"
	"github.com/campuspilot/backend/internal/database"
	"github.com/campuspilot/backend/internal/services"
	"github.com/campuspilot/backend/pkg/logger"
	"github.com/campuspilot/backend/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, the auth services, the
// maintenance scheduler, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	ledger, err := iauth.NewTokenLedger(stack.DB, cfg.Auth.LedgerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token ledger: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	otpCfg := cfg.Auth.OTPConfig()
	otpCfg.Mailer = mailer
	otpSvc, err := iauth.NewOTPService(stack.DB, otpCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise otp service: %w", err)
	}

	credentialSvc, err := iauth.NewCredentialService(stack.DB, otpSvc, iauth.CredentialConfig{})
	if err != nil {
		return nil, fmt.Errorf("initialise credential service: %w", err)
	}

	issuer, err := iauth.NewSessionIssuer(jwtSvc, ledger, cfg.Auth.CookieConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session issuer: %w", err)
	}

	roleSvc, err := services.NewRoleResolver(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise role resolver: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(ledger, otpSvc, auditSvc,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays))
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:          stack.DB,
		Config:      cfg,
		JWT:         jwtSvc,
		Issuer:      issuer,
		Ledger:      ledger,
		Credentials: credentialSvc,
		OTP:         otpSvc,
		Roles:       roleSvc,
		Audit:       auditSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
