package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultEndpoint is the local development address of the face analysis API.
const DefaultEndpoint = "http://0.0.0.0:8686/api/v1/face"

// Config holds every setting the CLI needs. Values come from .env, then the
// environment, then command line flags.
type Config struct {
	Endpoint       string        `validate:"required"`
	AnalyzeTimeout time.Duration `validate:"gte=0"`

	CameraDevice string
	CameraFormat string
	CameraWidth  int `validate:"gte=0"`
	CameraHeight int `validate:"gte=0"`
	CameraFPS    int `validate:"gte=0,lte=240"`

	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile  string

	DatabaseURL string
	OutputDir   string `validate:"required"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Endpoint:     getEnv("FACEAPI_URL", DefaultEndpoint),
		CameraDevice: getEnv("CAMERA_DEVICE", defaultDevice()),
		CameraFormat: getEnv("CAMERA_FORMAT", defaultFormat()),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      os.Getenv("LOG_FILE"),
		DatabaseURL:  databaseURL(),
		OutputDir:    getEnv("OUTPUT_DIR", "./captures"),
	}

	var err error
	if cfg.AnalyzeTimeout, err = getDuration("FACEAPI_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CameraWidth, err = getInt("CAMERA_WIDTH", 640); err != nil {
		return nil, err
	}
	if cfg.CameraHeight, err = getInt("CAMERA_HEIGHT", 480); err != nil {
		return nil, err
	}
	if cfg.CameraFPS, err = getInt("CAMERA_FPS", 30); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the final configuration after flags were applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// databaseURL prefers DATABASE_URL and falls back to the POSTGRES_* variables.
// An empty result disables the analysis history.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func defaultFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

func defaultDevice() string {
	switch runtime.GOOS {
	case "darwin":
		return "0"
	case "windows":
		return "video=Integrated Camera"
	default:
		return "/dev/video0"
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
