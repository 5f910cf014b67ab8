// Пакет config отвечает за сбор и предоставление конфигурации устройства.
// Он:
//  1. читает переменные окружения из .env (через godotenv); отсутствие файла — не ошибка,
//     на контроллере настройки часто приходят из unit-файла systemd;
//  2. нормализует и валидирует значения, подставляя дефолты с предупреждением;
//  3. фиксирует результат в неизменяемом снимке, доступном через Env().
//
// Бизнес-контекст: адрес сервера присутствия, тайминги управляющего цикла и
// сетевых операций, источник кнопки и способ отрисовки, параметры логирования.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig — операционные настройки запуска.
//
// NB: значения уже прошли валидацию в loadConfig; по месту использования
// предполагается, что EnvConfig последователен.
type EnvConfig struct {
	// Сервер присутствия
	ServerHost    string
	ServerPort    int
	WSPath        string
	HTTPBaseURL   string
	UpdateBaseURL string
	// Тайминги
	TickInterval     time.Duration
	ConnectTimeout   time.Duration
	SendTimeout      time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration // дедлайн чтения, продлеваемый pong; 0 — без дедлайна
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	UpdateInterval   time.Duration
	UpdateTimeout    time.Duration
	CountInterval    time.Duration
	CountTimeout     time.Duration
	StatusHold       time.Duration
	MaxFramesPerTick int
	RunTimeout       time.Duration // 0 — без ограничения
	// Периферия
	ButtonSource  string
	ButtonPin     string
	Display       string
	DisplayTitle  string
	ConsoleEnable bool
	// Файлы
	IdentityFile        string
	FirmwareStagingFile string
	// Логирование
	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// WebSocketURL собирает адрес сессии из хоста, порта и пути.
func (e EnvConfig) WebSocketURL() string {
	u := url.URL{Scheme: "ws", Host: e.ServerHost + ":" + strconv.Itoa(e.ServerPort), Path: e.WSPath}
	return u.String()
}

// Config хранит конфигурацию среды. Публичные геттеры берут RLock.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Источники кнопки и способы отрисовки.
const (
	ButtonConsole   = "console"
	ButtonGPIO      = "gpio"
	DisplayTerminal = "terminal"
	DisplayLog      = "log"
)

// Значения по умолчанию.
const (
	defaultServerHost          = "192.168.1.164"
	defaultServerPort          = 8080
	defaultWSPath              = "/ws"
	defaultTickMS              = 50
	defaultConnectTimeoutSec   = 10
	defaultSendTimeoutSec      = 10
	defaultPingIntervalSec     = 30
	pongWaitFactor             = 2 // PONG_WAIT_SEC по умолчанию — два интервала ping
	defaultReconnectMinMS      = 500
	defaultReconnectMaxSec     = 30
	defaultUpdateIntervalSec   = 60
	defaultUpdateTimeoutSec    = 60
	defaultCountIntervalSec    = 10
	defaultCountTimeoutSec     = 5
	defaultStatusHoldMS        = 2000
	defaultMaxFramesPerTick    = 16
	defaultRunTimeoutSec       = 0
	defaultButtonSource        = ButtonConsole
	defaultButtonPin           = "GPIO13"
	defaultDisplay             = DisplayTerminal
	defaultDisplayTitle        = "Fitz-Net Bell"
	defaultConsoleEnable       = true
	defaultIdentityFile        = "data/identity.bbolt"
	defaultFirmwareStagingFile = "data/firmware.bin"
	defaultLogLevel            = "info"
	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 10
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance = &Config{}
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации. Повторный вызов
// запрещён, чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет загрузку без установки глобального состояния (удобно для тестов).
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env: %w", err)
			}
			appendWarningf(&warnings, "env file %q not found; using process environment", envPath)
		}
	}

	host := sanitizeString("SERVER_HOST", defaultServerHost)
	port := parseIntDefault("SERVER_PORT", defaultServerPort, validPort, &warnings)
	wsPath := sanitizePath(os.Getenv("WS_PATH"), defaultWSPath)

	defaultBase := "http://" + host + ":" + strconv.Itoa(port)
	httpBase, err := parseURLDefault("HTTP_BASE_URL", defaultBase)
	if err != nil {
		return nil, err
	}
	updateBase, err := parseURLDefault("UPDATE_BASE_URL", httpBase+"/firmware")
	if err != nil {
		return nil, err
	}

	pingInterval := parseSeconds("PING_INTERVAL_SEC", defaultPingIntervalSec, nonNegative, &warnings)
	pongWait := parseSeconds("PONG_WAIT_SEC", int(pongWaitFactor*pingInterval/time.Second), nonNegative, &warnings)
	if pingInterval > 0 && pongWait > 0 && pongWait <= pingInterval {
		appendWarningf(&warnings, "env PONG_WAIT_SEC must exceed PING_INTERVAL_SEC; using %v", pongWaitFactor*pingInterval)
		pongWait = pongWaitFactor * pingInterval
	}

	reconnectMin := parseMillis("RECONNECT_MIN_MS", defaultReconnectMinMS, nonNegative, &warnings)
	reconnectMax := parseSeconds("RECONNECT_MAX_SEC", defaultReconnectMaxSec, greaterThanZero, &warnings)
	if reconnectMax < reconnectMin {
		appendWarningf(&warnings, "env RECONNECT_MAX_SEC is below RECONNECT_MIN_MS; using %v", reconnectMin)
		reconnectMax = reconnectMin
	}

	env := EnvConfig{
		ServerHost:    host,
		ServerPort:    port,
		WSPath:        wsPath,
		HTTPBaseURL:   httpBase,
		UpdateBaseURL: updateBase,

		TickInterval:     parseMillis("TICK_INTERVAL_MS", defaultTickMS, greaterThanZero, &warnings),
		ConnectTimeout:   parseSeconds("CONNECT_TIMEOUT_SEC", defaultConnectTimeoutSec, greaterThanZero, &warnings),
		SendTimeout:      parseSeconds("SEND_TIMEOUT_SEC", defaultSendTimeoutSec, greaterThanZero, &warnings),
		PingInterval:     pingInterval,
		PongWait:         pongWait,
		ReconnectMin:     reconnectMin,
		ReconnectMax:     reconnectMax,
		UpdateInterval:   parseSeconds("UPDATE_INTERVAL_SEC", defaultUpdateIntervalSec, greaterThanZero, &warnings),
		UpdateTimeout:    parseSeconds("UPDATE_TIMEOUT_SEC", defaultUpdateTimeoutSec, greaterThanZero, &warnings),
		CountInterval:    parseSeconds("COUNT_INTERVAL_SEC", defaultCountIntervalSec, greaterThanZero, &warnings),
		CountTimeout:     parseSeconds("COUNT_TIMEOUT_SEC", defaultCountTimeoutSec, greaterThanZero, &warnings),
		StatusHold:       parseMillis("STATUS_HOLD_MS", defaultStatusHoldMS, nonNegative, &warnings),
		MaxFramesPerTick: parseIntDefault("MAX_FRAMES_PER_TICK", defaultMaxFramesPerTick, greaterThanZero, &warnings),
		RunTimeout:       parseSeconds("RUN_TIMEOUT_SEC", defaultRunTimeoutSec, nonNegative, &warnings),

		ButtonSource:  sanitizeChoice("BUTTON_SOURCE", defaultButtonSource, []string{ButtonConsole, ButtonGPIO}, &warnings),
		ButtonPin:     sanitizeString("BUTTON_PIN", defaultButtonPin),
		Display:       sanitizeChoice("DISPLAY_MODE", defaultDisplay, []string{DisplayTerminal, DisplayLog}, &warnings),
		DisplayTitle:  sanitizeString("DISPLAY_TITLE", defaultDisplayTitle),
		ConsoleEnable: parseBoolDefault("CONSOLE_ENABLE", defaultConsoleEnable, &warnings),

		IdentityFile:        sanitizeString("IDENTITY_FILE", defaultIdentityFile),
		FirmwareStagingFile: sanitizeString("FIRMWARE_STAGING_FILE", defaultFirmwareStagingFile),

		LogLevel:          sanitizeLogLevel("LOG_LEVEL", defaultLogLevel, &warnings),
		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel("LOG_FILE_LEVEL", defaultLogFileLevel, &warnings),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает копию накопленных предупреждений.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает неизменяемый снимок настроек.
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Пусто/некорректно/не прошло validator —
// возвращает defaultVal и пишет предупреждение. Тихий дефолт только для пустого значения:
// большинство ручек на устройстве не задаются, и шуметь о каждой незачем.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func parseMillis(name string, defaultMS int, validator func(int) bool, warnings *[]string) time.Duration {
	return time.Duration(parseIntDefault(name, defaultMS, validator, warnings)) * time.Millisecond
}

func parseSeconds(name string, defaultSec int, validator func(int) bool, warnings *[]string) time.Duration {
	return time.Duration(parseIntDefault(name, defaultSec, validator, warnings)) * time.Second
}

// parseBoolDefault читает name как bool.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseURLDefault проверяет, что значение — абсолютный http(s) URL. Хвостовой "/" срезается.
func parseURLDefault(name, fallback string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return strings.TrimRight(fallback, "/"), nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("env %s value %q must be an absolute http(s) URL", name, value)
	}
	return strings.TrimRight(value, "/"), nil
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
func validPort(v int) bool       { return v > 0 && v < 65536 }

// sanitizeLogLevel ограничивает значения набором {debug, info, warn, error}.
func sanitizeLogLevel(name, defaultVal string, warnings *[]string) string {
	return sanitizeChoice(name, defaultVal, []string{"debug", "info", "warn", "error"}, warnings)
}

// sanitizeChoice приводит значение к нижнему регистру и проверяет вхождение в allowed.
func sanitizeChoice(name, defaultVal string, allowed []string, warnings *[]string) string {
	raw := os.Getenv(name)
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return defaultVal
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, raw, defaultVal)
	return defaultVal
}

func sanitizeString(name, fallback string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	return v
}

// sanitizePath гарантирует ведущий "/" у пути WebSocket.
func sanitizePath(value, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if !strings.HasPrefix(v, "/") {
		v = "/" + v
	}
	return v
}
