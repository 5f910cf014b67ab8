package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeEnv пишет .env во временный каталог и снимает выставленные godotenv
// переменные по завершении теста.
func writeEnv(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		for _, l := range lines {
			if k, _, ok := strings.Cut(l, "="); ok {
				_ = os.Unsetenv(k)
			}
		}
	})
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	env := cfg.Env

	if got, want := env.WebSocketURL(), "ws://192.168.1.164:8080/ws"; got != want {
		t.Fatalf("WebSocketURL() = %q, want %q", got, want)
	}
	if env.HTTPBaseURL != "http://192.168.1.164:8080" || env.UpdateBaseURL != "http://192.168.1.164:8080/firmware" {
		t.Fatalf("base URLs = %q, %q", env.HTTPBaseURL, env.UpdateBaseURL)
	}
	if env.TickInterval != 50*time.Millisecond || env.CountInterval != 10*time.Second {
		t.Fatalf("timings = %v, %v", env.TickInterval, env.CountInterval)
	}
	if env.PingInterval != 30*time.Second || env.PongWait != time.Minute {
		t.Fatalf("keepalive = %v, %v, want 30s ping and 1m pong wait", env.PingInterval, env.PongWait)
	}
	if env.ButtonSource != ButtonConsole || env.Display != DisplayTerminal {
		t.Fatalf("peripherals = %q, %q", env.ButtonSource, env.Display)
	}
	if len(cfg.warnings) != 1 || !strings.Contains(cfg.warnings[0], "not found") {
		t.Fatalf("warnings = %v, want a single missing-file warning", cfg.warnings)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeEnv(t,
		"SERVER_HOST=bell.local",
		"SERVER_PORT=9000",
		"WS_PATH=presence",
		"TICK_INTERVAL_MS=20",
		"RECONNECT_MIN_MS=0",
		"BUTTON_SOURCE=GPIO",
		"DISPLAY_MODE=log",
		"LOG_LEVEL=debug",
	)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	env := cfg.Env
	if got := env.WebSocketURL(); got != "ws://bell.local:9000/presence" {
		t.Fatalf("WebSocketURL() = %q", got)
	}
	if env.TickInterval != 20*time.Millisecond || env.ReconnectMin != 0 {
		t.Fatalf("timings = %v, %v", env.TickInterval, env.ReconnectMin)
	}
	if env.ButtonSource != ButtonGPIO || env.Display != DisplayLog || env.LogLevel != "debug" {
		t.Fatalf("choices = %q, %q, %q", env.ButtonSource, env.Display, env.LogLevel)
	}
	if len(cfg.warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cfg.warnings)
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")
	t.Setenv("TICK_INTERVAL_MS", "fast")
	t.Setenv("DISPLAY_MODE", "oled")
	t.Setenv("CONSOLE_ENABLE", "maybe")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Env.ServerPort != defaultServerPort || cfg.Env.TickInterval != defaultTickMS*time.Millisecond {
		t.Fatalf("fallbacks not applied: %+v", cfg.Env)
	}
	if cfg.Env.Display != DisplayTerminal || !cfg.Env.ConsoleEnable {
		t.Fatalf("fallbacks not applied: %+v", cfg.Env)
	}
	if len(cfg.warnings) != 4 {
		t.Fatalf("warnings = %v, want 4", cfg.warnings)
	}
}

func TestLoadConfig_BadURLIsFatal(t *testing.T) {
	t.Setenv("HTTP_BASE_URL", "bell.local:8080")

	if _, err := loadConfig(""); err == nil {
		t.Fatalf("loadConfig() accepted a relative base URL")
	}
}

func TestLoadConfig_PongWait(t *testing.T) {
	cases := []struct {
		name     string
		ping     string
		pong     string
		want     time.Duration
		warnings int
	}{
		{name: "по умолчанию два интервала ping", ping: "10", want: 20 * time.Second},
		{name: "явное значение", ping: "10", pong: "45", want: 45 * time.Second},
		{name: "не больше интервала ping", ping: "10", pong: "5", want: 20 * time.Second, warnings: 1},
		{name: "без keepalive", ping: "0", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PING_INTERVAL_SEC", tc.ping)
			t.Setenv("PONG_WAIT_SEC", tc.pong)

			cfg, err := loadConfig("")
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if cfg.Env.PongWait != tc.want {
				t.Fatalf("PongWait = %v, want %v", cfg.Env.PongWait, tc.want)
			}
			if len(cfg.warnings) != tc.warnings {
				t.Fatalf("warnings = %v, want %d", cfg.warnings, tc.warnings)
			}
		})
	}
}
