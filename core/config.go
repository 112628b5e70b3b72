package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	APIConfig struct {
		BaseURL string
		Timeout time.Duration
	}

	CameraConfig struct {
		DeviceID int
		Width    int
		Height   int
		Facing   string
		FPS      int
	}

	DetectionConfig struct {
		ModelPath    string
		ConfigPath   string
		Confidence   float64
		StableFrames int
	}

	CaptureConfig struct {
		JPEGQuality int
		Mirror      bool
	}

	SubmissionConfig struct {
		ResetDelay time.Duration
	}

	KioskConfig struct {
		Address         string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	StorageConfig struct {
		Path string
	}

	Config struct {
		Env          string // DEV (local; default), TEST, QA, PROD
		Debug        bool
		TestMode     bool
		AppName      string
		Build        string
		RollbarToken string

		API        APIConfig
		Camera     CameraConfig
		Detection  DetectionConfig
		Capture    CaptureConfig
		Submission SubmissionConfig
		Kiosk      KioskConfig
		Storage    StorageConfig
	}
)

func newViper(env string) *viper.Viper {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Smart Attendance")
	v.SetDefault("build", "dev")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("api.baseURL", "http://127.0.0.1:8000")
	v.SetDefault("api.timeout", 15*time.Second)

	v.SetDefault("camera.deviceID", 0)
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.facing", "user")
	v.SetDefault("camera.fps", 30)

	v.SetDefault("detection.modelPath", "assets/models/res10_300x300_ssd_iter_140000.caffemodel")
	v.SetDefault("detection.configPath", "assets/models/deploy.prototxt")
	v.SetDefault("detection.confidence", 0.5)
	v.SetDefault("detection.stableFrames", 45)

	v.SetDefault("capture.jpegQuality", 95)
	v.SetDefault("capture.mirror", true)

	v.SetDefault("submission.resetDelay", 3*time.Second)

	v.SetDefault("kiosk.address", ":8080")
	v.SetDefault("kiosk.shutdownTimeout", 5*time.Second)
	v.SetDefault("kiosk.disableReqLogs", false)

	v.SetDefault("storage.path", "./checkin.db")

	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// NewConfig loads the app configuration from the environment, and from `config/.env.<env>` if it exists.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	return configFromViper(env, newViper(env))
}

func configFromViper(env string, v *viper.Viper) *Config {
	conf := &Config{
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		RollbarToken: v.GetString("rollbarToken"),
		API: APIConfig{
			BaseURL: strings.TrimRight(v.GetString("api.baseURL"), "/"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Camera: CameraConfig{
			DeviceID: v.GetInt("camera.deviceID"),
			Width:    v.GetInt("camera.width"),
			Height:   v.GetInt("camera.height"),
			Facing:   v.GetString("camera.facing"),
			FPS:      v.GetInt("camera.fps"),
		},
		Detection: DetectionConfig{
			ModelPath:    v.GetString("detection.modelPath"),
			ConfigPath:   v.GetString("detection.configPath"),
			Confidence:   v.GetFloat64("detection.confidence"),
			StableFrames: v.GetInt("detection.stableFrames"),
		},
		Capture: CaptureConfig{
			JPEGQuality: v.GetInt("capture.jpegQuality"),
			Mirror:      v.GetBool("capture.mirror"),
		},
		Submission: SubmissionConfig{
			ResetDelay: v.GetDuration("submission.resetDelay"),
		},
		Kiosk: KioskConfig{
			Address:         v.GetString("kiosk.address"),
			ShutdownTimeout: v.GetDuration("kiosk.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("kiosk.disableReqLogs"),
		},
		Storage: StorageConfig{
			Path: v.GetString("storage.path"),
		},
	}
	conf.clean()
	return conf
}

// clean resets out-of-range values to their defaults.
func (c *Config) clean() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 1280
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 720
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 30
	}
	if c.Camera.Facing == "" {
		c.Camera.Facing = "user"
	}
	if c.Detection.Confidence <= 0 || c.Detection.Confidence > 1 {
		c.Detection.Confidence = 0.5
	}
	if c.Detection.StableFrames <= 0 {
		c.Detection.StableFrames = 45
	}
	if c.Capture.JPEGQuality <= 0 || c.Capture.JPEGQuality > 100 {
		c.Capture.JPEGQuality = 95
	}
	if c.Submission.ResetDelay <= 0 {
		c.Submission.ResetDelay = 3 * time.Second
	}
	if c.Kiosk.ShutdownTimeout <= 0 {
		c.Kiosk.ShutdownTimeout = 5 * time.Second
	}
}
