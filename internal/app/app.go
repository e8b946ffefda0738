package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	"github.com/router-for-me/SchoolAuth/internal/config"
	"github.com/router-for-me/SchoolAuth/internal/db"
	"github.com/router-for-me/SchoolAuth/internal/events"
	internalhttp "github.com/router-for-me/SchoolAuth/internal/http"
	"github.com/router-for-me/SchoolAuth/internal/http/api/authapi"
	"github.com/router-for-me/SchoolAuth/internal/http/middleware"
	"github.com/router-for-me/SchoolAuth/internal/logging"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// loadConfig resolves the config path, loads it and configures logging.
func loadConfig(cfg config.AppConfig) (*config.Config, func(), error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	loaded, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	closer, errLog := logging.Setup(loaded.Log)
	if errLog != nil {
		return nil, nil, errLog
	}
	return loaded, func() { _ = closer.Close() }, nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	loaded, closeLog, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	conn, err := db.Open(loaded.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn.WithContext(ctx))
}

// CreateSuperuser creates the configured bootstrap superuser if it does not exist yet.
func CreateSuperuser(ctx context.Context, cfg config.AppConfig) error {
	loaded, closeLog, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	if !loaded.FirstSuperuser.Enabled() {
		return fmt.Errorf("app: first_superuser roll_number and password are required")
	}
	conn, err := db.Open(loaded.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	_, errEnsure := EnsureSuperuser(ctx, store.NewUsers(conn), loaded.FirstSuperuser)
	return errEnsure
}

// EnsureSuperuser creates the bootstrap superuser unless a user with its roll number exists.
// It reports whether a user was created.
func EnsureSuperuser(ctx context.Context, users *store.Users, su config.SuperuserConfig) (bool, error) {
	rollNumber := strings.TrimSpace(su.RollNumber)
	if _, errFind := users.FindByRollNumber(ctx, rollNumber); errFind == nil {
		return false, nil
	} else if !errors.Is(errFind, store.ErrNotFound) {
		return false, errFind
	}
	hash, errHash := security.HashPassword(su.Password)
	if errHash != nil {
		return false, errHash
	}
	user := &models.User{
		RollNumber:  rollNumber,
		FullName:    su.FullName,
		Password:    hash,
		Role:        models.RolePrincipal,
		IsSuperuser: true,
		Active:      true,
	}
	if email := strings.TrimSpace(su.Email); email != "" {
		user.Email = &email
	}
	if errCreate := users.Create(ctx, user); errCreate != nil {
		return false, fmt.Errorf("app: create superuser: %w", errCreate)
	}
	log.WithField("roll_number", rollNumber).Info("bootstrap superuser created")
	return true, nil
}

// Server holds the wired components of a running auth service.
type Server struct {
	Config     *config.Config
	DB         *gorm.DB
	Engine     *gin.Engine
	Sweeper    *auth.Sweeper
	Limiter    *middleware.RateLimiter
	dispatcher *events.Dispatcher
	redis      redis.UniversalClient
}

// Build wires stores, flow engines and the HTTP router over an open database.
func Build(cfg *config.Config, conn *gorm.DB) (*Server, error) {
	wa, errWA := security.NewWebAuthn(cfg.WebAuthn)
	if errWA != nil {
		return nil, errWA
	}

	sinks := events.MultiSink{events.LogSink{}}
	var redisClient redis.UniversalClient
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		opts, errParse := redis.ParseURL(url)
		if errParse != nil {
			return nil, fmt.Errorf("app: parse redis url: %w", errParse)
		}
		redisClient = redis.NewClient(opts)
		sinks = append(sinks, events.NewRedisSink(redisClient, cfg.Events.Channel))
	}
	dispatcher := events.NewDispatcher(sinks, cfg.Events.BufferSize)

	users := store.NewUsers(conn)
	challenges := store.NewChallenges(conn)
	sessions := store.NewQRSessions(conn)
	tokens := security.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	services := authapi.Services{
		Gate:     auth.NewGate(tokens, users),
		Password: auth.NewPasswordService(users, tokens),
		WebAuthn: auth.NewWebAuthnService(auth.WebAuthnDeps{
			WebAuthn:     wa,
			Users:        users,
			Credentials:  store.NewCredentials(conn),
			Challenges:   challenges,
			Tokens:       tokens,
			Events:       dispatcher,
			ChallengeTTL: cfg.WebAuthn.ChallengeTTL,
		}),
		QRLogin: auth.NewQRLoginService(auth.QRLoginDeps{
			Sessions:  sessions,
			Users:     users,
			Tokens:    tokens,
			Events:    dispatcher,
			TTL:       cfg.QRLogin.SessionTTL,
			ImageSize: cfg.QRLogin.ImageSize,
			BatchSize: cfg.Sweeper.BatchSize,
		}),
		Recovery: auth.NewRecoveryService(auth.RecoveryDeps{
			Codes:     store.NewRecoveryCodes(conn),
			Users:     users,
			Tokens:    tokens,
			Events:    dispatcher,
			BatchSize: cfg.Recovery.BatchSize,
		}),
		Users: users,
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	engine := internalhttp.NewRouter(internalhttp.RouterDeps{
		DB:        conn,
		APIPrefix: cfg.Server.APIPrefix,
		Auth:      services,
		Users:     users,
		Limiter:   limiter,
	})

	return &Server{
		Config:     cfg,
		DB:         conn,
		Engine:     engine,
		Sweeper:    auth.NewSweeper(challenges, sessions, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize),
		Limiter:    limiter,
		dispatcher: dispatcher,
		redis:      redisClient,
	}, nil
}

// Close flushes pending events and releases the redis client.
func (s *Server) Close() {
	s.dispatcher.Close()
	if s.redis != nil {
		if errClose := s.redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close redis client")
		}
	}
}

// RunServer boots the auth API and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	loaded, closeLog, err := loadConfig(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	conn, err := db.Open(loaded.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if loaded.FirstSuperuser.Enabled() {
		if _, errEnsure := EnsureSuperuser(ctx, store.NewUsers(conn), loaded.FirstSuperuser); errEnsure != nil {
			return errEnsure
		}
	}

	server, err := Build(loaded, conn)
	if err != nil {
		return err
	}
	defer server.Close()

	server.Sweeper.Start(ctx)
	server.Limiter.StartCleanup(ctx)

	httpServer := &http.Server{
		Addr:              loaded.Server.Addr,
		Handler:           server.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting auth API on %s (prefix=%s)", loaded.Server.Addr, loaded.Server.APIPrefix)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down auth API")
	return httpServer.Shutdown(shutdownCtx)
}
