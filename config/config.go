package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Виды транспорта.
const (
	TransportLocal  = "local"  // топики в памяти процесса, хаб на HTTPAddr
	TransportRemote = "remote" // подключение к хабу по HubURL
)

// Адреса HTTP-сервера по умолчанию. У узла с удалённым транспортом свой порт:
// порт хаба на той же машине уже занят.
const (
	DefaultHTTPAddr       = ":8080"
	DefaultRemoteHTTPAddr = ":8081"
)

type Config struct {
	DetectorType string
	InputTopic   string
	OutputTopic  string
	QueueSize    int
	ORBFeatures  int

	Transport string
	HubURL    string
	HTTPAddr  string // пустой адрес отключает HTTP-сервер

	TelegramToken string
	WatchInterval time.Duration

	CameraDevice  int
	CameraFPS     int
	CameraFrameID string

	LogLevel string

	httpAddrSet bool
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		DetectorType:  "ORB",
		InputTopic:    "/image_raw",
		OutputTopic:   "/image_annotated",
		QueueSize:     10,
		ORBFeatures:   5000,
		Transport:     TransportLocal,
		HubURL:        "ws://localhost:8080",
		HTTPAddr:      DefaultHTTPAddr,
		WatchInterval: 5 * time.Second,
		CameraDevice:  -1,
		CameraFPS:     15,
		CameraFrameID: "camera",
		LogLevel:      "info",
	}
}

// Имена параметров и соответствующие переменные окружения.
var envParams = map[string]string{
	"detector_type":   "DETECTOR_TYPE",
	"input_topic":     "INPUT_TOPIC",
	"output_topic":    "OUTPUT_TOPIC",
	"queue_size":      "QUEUE_SIZE",
	"orb_features":    "ORB_FEATURES",
	"transport":       "TRANSPORT",
	"hub_url":         "HUB_URL",
	"http_addr":       "HTTP_ADDR",
	"watch_interval":  "TELEGRAM_WATCH_INTERVAL",
	"camera_device":   "CAMERA_DEVICE",
	"camera_fps":      "CAMERA_FPS",
	"camera_frame_id": "CAMERA_FRAME_ID",
	"log_level":       "LOG_LEVEL",
}

func Load(files ...string) (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load(files...)

	cfg := Default()
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	for name, env := range envParams {
		value, ok := os.LookupEnv(env)
		if !ok || value == "" {
			continue
		}
		if err := cfg.SetParam(name, value); err != nil {
			return nil, fmt.Errorf("%s: %w", env, err)
		}
	}

	cfg.applyTransportDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetParam задаёт параметр по имени, как это делает -p name=value.
func (c *Config) SetParam(name, value string) error {
	var err error
	switch name {
	case "detector_type":
		c.DetectorType = value
	case "input_topic":
		c.InputTopic = value
	case "output_topic":
		c.OutputTopic = value
	case "queue_size":
		c.QueueSize, err = cast.ToIntE(value)
	case "orb_features":
		c.ORBFeatures, err = cast.ToIntE(value)
	case "transport":
		c.Transport = strings.ToLower(value)
	case "hub_url":
		c.HubURL = value
	case "http_addr":
		c.HTTPAddr, c.httpAddrSet = value, true
	case "watch_interval":
		c.WatchInterval, err = cast.ToDurationE(value)
	case "camera_device":
		c.CameraDevice, err = cast.ToIntE(value)
	case "camera_fps":
		c.CameraFPS, err = cast.ToIntE(value)
	case "camera_frame_id":
		c.CameraFrameID = value
	case "log_level":
		c.LogLevel = value
	default:
		return fmt.Errorf("unknown parameter %q", name)
	}

	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	return nil
}

// ApplyParams применяет список переопределений вида name=value (или name:=value).
func (c *Config) ApplyParams(params []string) error {
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid parameter %q, expected name=value", p)
		}
		name = strings.TrimSuffix(strings.TrimSpace(name), ":")
		if err := c.SetParam(name, strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	c.applyTransportDefaults()
	return c.Validate()
}

// applyTransportDefaults выбирает адрес HTTP-сервера по транспорту, если он не задан явно.
func (c *Config) applyTransportDefaults() {
	if c.httpAddrSet {
		return
	}
	c.HTTPAddr = DefaultHTTPAddr
	if c.Transport == TransportRemote {
		c.HTTPAddr = DefaultRemoteHTTPAddr
	}
}

// Validate проверяет значения, без которых процесс не запустится.
// Имя детектора здесь не проверяется: неизвестный детектор не мешает старту.
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.InputTopic == "" || c.OutputTopic == "" {
		return fmt.Errorf("input and output topics are required")
	}
	if c.Transport != TransportLocal && c.Transport != TransportRemote {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport == TransportRemote {
		if c.HubURL == "" {
			return fmt.Errorf("hub_url is required for remote transport")
		}
		if hubIsLocalAddr(c.HubURL, c.HTTPAddr) {
			return fmt.Errorf("http_addr %s is the address of the hub %s, choose another port", c.HTTPAddr, c.HubURL)
		}
	}
	if c.CameraDevice >= 0 && c.CameraFPS <= 0 {
		return fmt.Errorf("camera_fps must be positive, got %d", c.CameraFPS)
	}
	if c.WatchInterval < 0 {
		return fmt.Errorf("watch_interval must not be negative")
	}
	return nil
}

var localHosts = map[string]bool{"": true, "localhost": true, "127.0.0.1": true, "::1": true, "0.0.0.0": true}

// hubIsLocalAddr сообщает, что хаб слушает тот же локальный порт, что и httpAddr.
func hubIsLocalAddr(hubURL, httpAddr string) bool {
	if httpAddr == "" {
		return false
	}
	u, err := url.Parse(hubURL)
	if err != nil || !localHosts[u.Hostname()] {
		return false
	}
	hubPort := u.Port()
	if hubPort == "" {
		switch u.Scheme {
		case "ws", "http":
			hubPort = "80"
		case "wss", "https":
			hubPort = "443"
		}
	}

	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil || !localHosts[host] {
		return false
	}
	return port == hubPort
}
