package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"stockpulse/internal/app"
	"stockpulse/internal/config"

	"github.com/charmbracelet/ssh"
	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"
)

func TestMainBootstrap(t *testing.T) {
	restore := stubSSHDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("main did not exit")
	}
}

func TestFingerprintAuth(t *testing.T) {
	allowed := newKey(t)
	other := newKey(t)

	auth := fingerprintAuth([]string{" " + gossh.FingerprintSHA256(allowed) + " ", ""}, zerolog.Nop())
	if !auth(nil, allowed) {
		t.Fatal("expected listed key to be accepted")
	}
	if auth(nil, other) {
		t.Fatal("expected unlisted key to be rejected")
	}
}

func TestFingerprintAuthEmptyListDeniesAll(t *testing.T) {
	auth := fingerprintAuth(nil, zerolog.Nop())
	if auth(nil, newKey(t)) {
		t.Fatal("expected rejection with no authorized keys")
	}
}

func newKey(t *testing.T) gossh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	return key
}

func stubSSHDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origNewApp := newAppFunc
	origStartApp := startAppFunc
	origNewWishServer := newWishServerFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{
			LogLevel:           "error",
			SSHPort:            2222,
			SSHHostKeyPath:     ".ssh/test_key",
			EventBufferSize:    16,
			EventHistorySize:   64,
			MaxConcurrentTasks: 1,
			TaskRetain:         time.Minute,
			WatchlistPoll:      time.Minute,
		}
	}
	startAppFunc = func(*app.App, context.Context) {}
	newWishServerFunc = func(ops ...ssh.Option) (*ssh.Server, error) {
		return nil, nil
	}
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		newAppFunc = origNewApp
		startAppFunc = origStartApp
		newWishServerFunc = origNewWishServer
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
	}
}
