// Command authd is a minimal HTTP front for the engine. It exists to show
// the wiring: transport concerns (routing, decoding, status mapping) live
// here, never in the engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mypts/authcore"
	"github.com/mypts/authcore/store/memory"
	"github.com/mypts/authcore/store/postgres"
)

type config struct {
	Addr        string `env:"AUTHD_ADDR" envDefault:":8080"`
	RedisAddr   string `env:"AUTHD_REDIS_ADDR" envDefault:"localhost:6379"`
	PostgresDSN string `env:"AUTHD_POSTGRES_DSN"`
	JWTSecret   string `env:"AUTHD_JWT_SECRET,required"`
	TwoFAKey    string `env:"AUTHD_2FA_KEY,required"` // 32 bytes
	Issuer      string `env:"AUTHD_ISSUER" envDefault:"authd"`
}

// logNotifier stands in for a real mailer or SMS gateway.
type logNotifier struct {
	log *slog.Logger
}

func (n *logNotifier) Send(ctx context.Context, channel authcore.Channel, target, payload string) error {
	n.log.Info("otp dispatch", "channel", channel, "target", target, "code", payload)
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("authd exited", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	var users authcore.CredentialStore
	if cfg.PostgresDSN != "" {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return err
		}
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		users = postgres.New(pool)
	} else {
		log.Warn("no postgres dsn configured, using in-memory store")
		users = memory.New()
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.PrivateKey = []byte(cfg.JWTSecret)
	engineCfg.JWT.Issuer = cfg.Issuer
	engineCfg.TwoFactor.SecretKey = []byte(cfg.TwoFAKey)
	engineCfg.Logger = log

	engine, err := authcore.New(engineCfg, rdb, users, &logNotifier{log: log},
		authcore.NewJSONWriterSink(os.Stdout))
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router(engine, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("authd listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func router(engine *authcore.Engine, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(clientContext)

	r.Post("/v1/register", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decode(w, req, &body) {
			return
		}
		user, tokens, err := engine.Register(req.Context(), authcore.RegisterInput{
			Email:    body.Email,
			Username: body.Username,
			Password: body.Password,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user_id": user.ID, "tokens": tokens})
	})

	r.Post("/v1/login", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		if !decode(w, req, &body) {
			return
		}
		result, err := engine.Login(req.Context(), body.Identifier, body.Password, req.UserAgent())
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/v1/login/2fa", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ChallengeID string `json:"challenge_id"`
			Code        string `json:"code"`
		}
		if !decode(w, req, &body) {
			return
		}
		result, err := engine.CompleteTwoFactorLogin(req.Context(), body.ChallengeID, body.Code)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/v1/token/refresh", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decode(w, req, &body) {
			return
		}
		tokens, err := engine.Refresh(req.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	})

	r.Post("/v1/password/forgot", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if !decode(w, req, &body) {
			return
		}
		if err := engine.RequestPasswordReset(req.Context(), body.Email); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/v1/password/reset", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email       string `json:"email"`
			Code        string `json:"code"`
			NewPassword string `json:"new_password"`
		}
		if !decode(w, req, &body) {
			return
		}
		if err := engine.ResetPassword(req.Context(), body.Email, body.Code, body.NewPassword); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Routes below require a bearer token.
	r.Group(func(r chi.Router) {
		r.Use(authenticate(engine))

		r.Get("/v1/sessions", func(w http.ResponseWriter, req *http.Request) {
			id := identityFrom(req)
			sessions, err := engine.Sessions(req.Context(), id.UserID)
			if err != nil {
				writeError(w, log, err)
				return
			}
			writeJSON(w, http.StatusOK, sessions)
		})

		r.Post("/v1/logout", func(w http.ResponseWriter, req *http.Request) {
			id := identityFrom(req)
			if err := engine.Logout(req.Context(), id.SessionID); err != nil {
				writeError(w, log, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/v1/logout/all", func(w http.ResponseWriter, req *http.Request) {
			id := identityFrom(req)
			n, err := engine.LogoutAll(req.Context(), id.UserID)
			if err != nil {
				writeError(w, log, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
		})

		r.Post("/v1/2fa/enroll", func(w http.ResponseWriter, req *http.Request) {
			id := identityFrom(req)
			enrollment, err := engine.EnrollTwoFactor(req.Context(), id.UserID)
			if err != nil {
				writeError(w, log, err)
				return
			}
			writeJSON(w, http.StatusOK, enrollment)
		})

		r.Post("/v1/2fa/confirm", func(w http.ResponseWriter, req *http.Request) {
			id := identityFrom(req)
			var body struct {
				Code string `json:"code"`
			}
			if !decode(w, req, &body) {
				return
			}
			if err := engine.ConfirmTwoFactorEnrollment(req.Context(), id.UserID, body.Code); err != nil {
				writeError(w, log, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

type identityContextKey struct{}

func authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			identity, err := engine.VerifyAccess(req.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(req.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func identityFrom(req *http.Request) authcore.AccessIdentity {
	id, _ := req.Context().Value(identityContextKey{}).(authcore.AccessIdentity)
	return id
}

func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := authcore.WithClientIP(req.Context(), req.RemoteAddr)
		ctx = authcore.WithUserAgent(ctx, req.UserAgent())
		if tenant := req.Header.Get("X-Tenant-ID"); tenant != "" {
			ctx = authcore.WithTenant(ctx, tenant)
		}
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenMalformed),
		errors.Is(err, authcore.ErrSignatureInvalid),
		errors.Is(err, authcore.ErrSessionCompromised),
		errors.Is(err, authcore.ErrSessionNotFound),
		errors.Is(err, authcore.ErrInvalidCode):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, authcore.ErrEmailTaken),
		errors.Is(err, authcore.ErrUsernameTaken),
		errors.Is(err, authcore.ErrPhoneTaken),
		errors.Is(err, authcore.ErrIdentityConflict),
		errors.Is(err, authcore.ErrAlreadyEnabled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, authcore.ErrNotFound),
		errors.Is(err, authcore.ErrNoPendingEnrollment):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, authcore.ErrCodeMismatch),
		errors.Is(err, authcore.ErrOTPExpired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, authcore.ErrAttemptsExhausted):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		log.Error("internal error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
