package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"stockpulse/internal/app"
	"stockpulse/internal/config"
	"stockpulse/internal/events"
	"stockpulse/internal/tui"
	"stockpulse/pkg/logger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	newAppFunc        = app.New
	startAppFunc      = func(a *app.App, ctx context.Context) { a.Start(ctx) }
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newAppFunc(ctx, cfg, log, "stockpulse-ssh")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build analysis core")
	}
	startAppFunc(a, ctx)

	if len(cfg.SSHAuthorizedFingerprints) == 0 {
		log.Warn().Msg("SSH_AUTHORIZED_FINGERPRINTS is empty, every key will be rejected")
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)
	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(fingerprintAuth(cfg.SSHAuthorizedFingerprints, log)),
		wish.WithMiddleware(
			releaseSession(a.Hub),
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				model := tui.NewModel(a.Tasks, sessionKey(s), s.User())
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)
				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			logging.Middleware(),
		),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSH server")
	}

	if srv != nil {
		go func() {
			log.Info().Str("addr", addr).Msg("SSH server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				log.Error().Err(err).Msg("SSH server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("Shutting down SSH server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("SSH server shutdown error")
		}
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("analysis core shutdown")
	}

	log.Info().Msg("SSH server exited")
}

// fingerprintAuth accepts keys whose SHA256 fingerprint is listed.
func fingerprintAuth(allowed []string, log zerolog.Logger) ssh.PublicKeyHandler {
	set := make(map[string]struct{}, len(allowed))
	for _, fp := range allowed {
		if fp = strings.TrimSpace(fp); fp != "" {
			set[fp] = struct{}{}
		}
	}
	return func(_ ssh.Context, key ssh.PublicKey) bool {
		fingerprint := gossh.FingerprintSHA256(key)
		if _, ok := set[fingerprint]; !ok {
			log.Warn().Str("fingerprint", fingerprint).Msg("SSH auth denied")
			return false
		}
		log.Info().Str("fingerprint", fingerprint).Msg("SSH auth accepted")
		return true
	}
}

func sessionKey(s ssh.Session) string {
	return "ssh:" + s.Context().SessionID()
}

// releaseSession drops the session's event subscription once the program
// has exited.
func releaseSession(hub *events.Hub) wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			next(s)
			hub.Unsubscribe(sessionKey(s))
		}
	}
}
