package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"focusboard/internal/config"
	dbconfig "focusboard/pkg/database"
	"focusboard/pkg/types"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = driver
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "focusboard.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func quietLogger() *bytes.Buffer { return &bytes.Buffer{} }

func TestApplication_StartServeStop(t *testing.T) {
	cfg := testConfig(t, dbconfig.DriverCGO)
	logger, err := NewLogger(cfg.Log, quietLogger())
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	app, err := NewApplication(cfg, logger)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + app.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(body, &health); err != nil || health["status"] != "healthy" {
		t.Errorf("Unexpected health body %s", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, dbconfig.DriverCGO)
	cfg.Auth.JWTSecret = ""

	if _, err := NewApplication(cfg, nil); err == nil {
		t.Fatal("Expected error for empty JWT secret")
	}
}

func TestApplication_SeedDemoAndLogin(t *testing.T) {
	cfg := testConfig(t, dbconfig.DriverPureGo)
	app, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	seed, err := app.SeedDemo(context.Background())
	if err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	if !seed.Session.Active || seed.Session.InstructorID != seed.Instructor.ID {
		t.Errorf("Unexpected seeded session %+v", seed.Session)
	}

	id, err := app.Auth().Verify(seed.StudentToken)
	if err != nil || id != seed.Student.ID {
		t.Errorf("student token verifies to %d, %v", id, err)
	}

	body := `{"email":"` + seed.Instructor.Email + `","password":"` + DemoInstructorPassword + `"}`
	resp, err := http.Post("http://"+app.Addr()+"/api/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/token error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 from login, got %d", resp.StatusCode)
	}
}

func TestApplication_StopClosesLiveConnections(t *testing.T) {
	cfg := testConfig(t, dbconfig.DriverCGO)
	app, err := NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	seed, err := app.SeedDemo(context.Background())
	if err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}

	url := fmt.Sprintf("ws://%s/ws/session/%d?token=%s", app.Addr(), seed.Session.ID, seed.StudentToken)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["type"] != types.MessageTypeConnectionEstablished {
		t.Fatalf("Expected connection_established, got %v (%v)", ack, err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		p, err := app.Database().GetPerformance(context.Background(), seed.Session.ID, seed.Student.ID)
		if err == nil && p.Attended {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attendance not recorded on join: %+v, %v", p, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// the server said goodbye with 1001
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("Expected close 1001, got %v", err)
			}
			break
		}
	}

	// the leave reached the database before it closed
	db, err := dbconfig.Open(cfg.StoreConfig())
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer func() { _ = db.Close() }()
	var attended bool
	err = db.QueryRow(
		"SELECT attended FROM performances WHERE session_id = ? AND student_id = ?",
		seed.Session.ID, seed.Student.ID,
	).Scan(&attended)
	if err != nil {
		t.Fatalf("query attendance: %v", err)
	}
	if attended {
		t.Error("Expected attended = false after shutdown")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
	}{
		{"text", config.LogConfig{Level: "info", Format: "text"}, false},
		{"json debug", config.LogConfig{Level: "debug", Format: "json"}, false},
		{"bad level", config.LogConfig{Level: "loud", Format: "text"}, true},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&tt.cfg, &buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			logger.Info("hello", "k", "v")
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("log output %q missing message", buf.String())
			}
		})
	}
}
