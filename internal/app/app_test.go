package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode: types.RoleRider,
		Ledger: config.LedgerConfig{
			BaseURL:        "http://localhost:3000",
			RequestTimeout: time.Second,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
			CacheCapacity:  16,
		},
		Realtime: config.RealtimeConfig{
			Transport:  "ws",
			GatewayURL: "ws://localhost:3001/ws",
		},
		Session: config.SessionConfig{
			StorePath:        filepath.Join(t.TempDir(), "session.json"),
			CheckInterval:    time.Minute,
			RefreshThreshold: time.Hour,
		},
		Dispatch: config.DispatchConfig{RadiusKm: 25},
		Trip:     config.TripConfig{PollInterval: time.Hour, City: "harare"},
		Log:      config.LogConfig{Level: "ERROR"},
	}
}

func TestNewRejectsInvalidLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "LOUD"

	if _, err := New(cfg); err == nil {
		t.Fatal("New() accepted an invalid log level")
	}
}

func TestNewBuildsRiderByDefault(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if a.Rider() == nil {
		t.Error("rider service not built in rider mode")
	}
	if a.Driver() != nil {
		t.Error("driver service built in rider mode")
	}
}

func TestNewBuildsDriverInDriverMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = types.RoleDriver

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if a.Driver() == nil {
		t.Error("driver service not built in driver mode")
	}
	if a.Rider() != nil {
		t.Error("rider service built in driver mode")
	}
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Transport = "carrier-pigeon"

	if _, err := New(cfg); err == nil {
		t.Fatal("New() accepted an unknown realtime transport")
	}
}
