package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-twofa/auth"
	"github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/db"
	"github.com/tendant/simple-twofa/pkg/ratelimit"
	"github.com/tendant/simple-twofa/pkg/twofa"
	"github.com/tendant/simple-twofa/pkg/twofa/api"
	"github.com/tendant/simple-twofa/pkg/user"
)

type DemoConfig struct {
	Username string `env:"TWOFA_DEMO_USERNAME" env-default:"demo"`
}

type Config struct {
	Database  config.DatabaseConfig
	JWT       config.JWTConfig
	TwoFA     config.TwoFAConfig
	Demo      DemoConfig
	AppConfig app.AppConfig
}

const sessionCleanupInterval = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	config.LoadEnvFile()
	cfg := Config{}
	if err := config.Load(&cfg); err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	validators := []config.Validator{cfg.JWT.Validate, cfg.TwoFA.Validate}
	if cfg.TwoFA.Persistence != "memory" && cfg.TwoFA.Persistence != "inmem" {
		validators = append(validators, cfg.Database.Validate)
	}
	if err := config.Validate(validators...); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	accessExpiry, _ := cfg.JWT.ParseAccessTokenExpiry()
	setupTTL, _ := cfg.TwoFA.ParseSetupTokenTTL()
	sessionTTL, _ := cfg.TwoFA.ParseSessionTTL()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	var users user.Directory
	switch cfg.TwoFA.Persistence {
	case "postgres", "postgresql":
		var err error
		pool, err = db.NewPool(ctx, cfg.Database.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", cfg.Database.Database, "host", cfg.Database.Host, "port", cfg.Database.Port, "user", cfg.Database.User, "error", err)
			os.Exit(-1)
		}
		defer pool.Close()
		users = user.NewPostgresDirectory(pool)
	default:
		users = user.NewInMemDirectory()
	}

	repoConfig := twofa.RepositoryConfig{Pool: pool, SessionTTL: sessionTTL}
	devices, err := twofa.NewDeviceRepository(cfg.TwoFA.Persistence, repoConfig)
	if err != nil {
		slog.Error("Failed to create device repository", "persistence", cfg.TwoFA.Persistence, "error", err)
		os.Exit(1)
	}
	sessions, err := twofa.NewSessionStore(cfg.TwoFA.Persistence, repoConfig)
	if err != nil {
		slog.Error("Failed to create session store", "persistence", cfg.TwoFA.Persistence, "error", err)
		os.Exit(1)
	}
	if pgSessions, ok := sessions.(*twofa.PostgresSessionStore); ok {
		go cleanupSessions(ctx, pgSessions)
	}

	jwtService := auth.NewJwtServiceOptions(
		cfg.JWT.Secret,
		auth.WithCookieHttpOnly(cfg.JWT.CookieHttpOnly),
		auth.WithCookieSecure(cfg.JWT.CookieSecure),
		auth.WithCookieSameSite(cfg.JWT.CookieSameSite()),
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithAudience(cfg.JWT.Audience),
		auth.WithAccessTokenExpiry(accessExpiry),
		auth.WithSetupTokenExpiry(setupTTL),
	)

	twofaService := twofa.NewService(devices, sessions, users,
		twofa.WithLoginFinalizer(jwtService),
		twofa.WithSetupTokenSigner(jwtService),
		twofa.WithIssuer(cfg.TwoFA.Issuer),
		twofa.WithTOTPTolerance(cfg.TwoFA.TOTPTolerance),
		twofa.WithBackupCodeCount(cfg.TwoFA.BackupCodeCount),
	)
	handleOpts := []api.Option{
		api.WithSessionCookie(cfg.TwoFA.SessionCookie),
		api.WithSessionTTL(sessionTTL),
	}
	if cfg.TwoFA.VerifyBurst > 0 && cfg.TwoFA.VerifyPerMinute > 0 {
		limiter := ratelimit.NewLimiter(cfg.TwoFA.VerifyBurst, float64(cfg.TwoFA.VerifyPerMinute)/60.0, sessionTTL)
		go limiter.Run(ctx)
		handleOpts = append(handleOpts, api.WithVerifyLimit(ratelimit.NewMiddleware(limiter, ratelimit.ByCookie(cfg.TwoFA.SessionCookie))))
	}
	twofaHandle := api.NewHandle(twofaService, jwtService, handleOpts...)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	server.R.Mount("/twofa", api.TwoFaHandler(twofaHandle))

	if inmem, ok := users.(*user.InMemDirectory); ok {
		demoUser, err := inmem.CreateUser(ctx, cfg.Demo.Username)
		if err != nil {
			slog.Error("Failed to create demo user", "username", cfg.Demo.Username, "error", err)
			os.Exit(1)
		}
		slog.Info("In-memory persistence, demo login enabled", "username", demoUser.Username, "userID", demoUser.ID)
		server.R.Post("/demo/login", demoLogin(twofaHandle, jwtService, demoUser))
	}

	slog.Info("Starting twofa server", "persistence", cfg.TwoFA.Persistence, "issuer", cfg.TwoFA.Issuer)
	server.Run()
}

// demoLogin stands in for a password check: it either opens a verification
// session for the demo user or signs them in directly.
func demoLogin(h *api.Handle, jwtService *auth.Jwt, u user.User) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opened, err := h.StartVerification(w, r, u.ID)
		if err != nil {
			slog.Error("Failed to start verification", "userID", u.ID, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if opened {
			render.JSON(w, r, map[string]string{"next": "/twofa/verify"})
			return
		}
		token, err := jwtService.FinalizeLogin(r.Context(), u.ID)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, map[string]string{"access_token": token.AccessToken})
	}
}

func cleanupSessions(ctx context.Context, store *twofa.PostgresSessionStore) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				slog.Error("Failed to delete expired verification sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Expired verification sessions deleted", "count", n)
			}
		}
	}
}
