package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	DataDir     string   `mapstructure:"data_dir"`
	ImageDir    string   `mapstructure:"image_dir"`  // Ablage für missing/ und found/
	StaticDir   string   `mapstructure:"static_dir"` // Optional: externe HTML-Formulare
	CORSOrigins []string `mapstructure:"cors_origins"`
	MaxUploadMB int      `mapstructure:"max_upload_mb"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // für SQLite
}

// MatchingConfig steuert den Abgleich von Gesichtsvektoren.
// Der Schwellenwert ist bewusst keine Eingabe pro Anfrage.
type MatchingConfig struct {
	Threshold        float64       `mapstructure:"threshold"`
	DuplicateEpsilon float64       `mapstructure:"duplicate_epsilon"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Workers          int           `mapstructure:"workers"`
	SurfaceAll       bool          `mapstructure:"surface_all"`
	MaxAcceptRetries int           `mapstructure:"max_accept_retries"`
}

// ExtractorConfig wählt den Dienst, der aus einem Bild einen Gesichtsvektor berechnet
type ExtractorConfig struct {
	Provider    string            `mapstructure:"provider"` // "insightface" oder "opencv"
	InsightFace InsightFaceConfig `mapstructure:"insightface"`
	OpenCV      OpenCVConfig      `mapstructure:"opencv"`
}

// InsightFaceConfig enthält die Einstellungen für den InsightFace-REST-Dienst
type InsightFaceConfig struct {
	URL                string  `mapstructure:"url"`
	Timeout            int     `mapstructure:"timeout"` // Sekunden
	DetectionThreshold float64 `mapstructure:"detection_threshold"`
}

// OpenCVConfig enthält Einstellungen für den lokalen gocv-Embedder
type OpenCVConfig struct {
	CascadePath  string  `mapstructure:"cascade_path"`
	ModelPath    string  `mapstructure:"model_path"` // z.B. openface.nn4.small2.v1.t7
	InputSize    int     `mapstructure:"input_size"`
	MinFaceSize  int     `mapstructure:"min_face_size"`
	ScaleFactor  float64 `mapstructure:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// CleanupConfig enthält Einstellungen für das Aufräumen verwaister Bilddateien
type CleanupConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"` // 0 deaktiviert den Hintergrundlauf
	MinAgeMinutes   int `mapstructure:"min_age_minutes"`
}

// I18nConfig enthält die Standardsprache für Benutzermeldungen
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix("REUNITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft Werte, für die es keinen sinnvollen Fallback gibt
func (c *Config) Validate() error {
	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be in (0,1], got %v", c.Matching.Threshold)
	}
	if c.Matching.DuplicateEpsilon < 0 || c.Matching.DuplicateEpsilon >= 1 {
		return fmt.Errorf("matching.duplicate_epsilon must be in [0,1), got %v", c.Matching.DuplicateEpsilon)
	}
	if c.Matching.Timeout <= 0 {
		return fmt.Errorf("matching.timeout must be positive")
	}
	switch c.Extractor.Provider {
	case "insightface", "opencv":
	default:
		return fmt.Errorf("unknown extractor.provider %q", c.Extractor.Provider)
	}
	return nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.image_dir", "/data/images")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/reunite.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/reunite.db")

	// Abgleich
	v.SetDefault("matching.threshold", 0.8)
	v.SetDefault("matching.duplicate_epsilon", 0.001)
	v.SetDefault("matching.timeout", "30s")
	v.SetDefault("matching.workers", 0) // 0 = anhand der CPU-Anzahl
	v.SetDefault("matching.surface_all", true)
	v.SetDefault("matching.max_accept_retries", 3)

	// Extraktor
	v.SetDefault("extractor.provider", "insightface")
	v.SetDefault("extractor.insightface.url", "http://localhost:18081")
	v.SetDefault("extractor.insightface.timeout", 20)
	v.SetDefault("extractor.insightface.detection_threshold", 0.6)
	v.SetDefault("extractor.opencv.cascade_path", "/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml")
	v.SetDefault("extractor.opencv.model_path", "/models/openface.nn4.small2.v1.t7")
	v.SetDefault("extractor.opencv.input_size", 96)
	v.SetDefault("extractor.opencv.min_face_size", 60)
	v.SetDefault("extractor.opencv.scale_factor", 1.1)
	v.SetDefault("extractor.opencv.min_neighbors", 5)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "reunite-go")
	v.SetDefault("mqtt.topic_prefix", "reunite")

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.interval_minutes", 60)
	v.SetDefault("cleanup.min_age_minutes", 30)

	v.SetDefault("i18n.default_language", "en")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Bildverzeichnisse
	for _, sub := range []string{"missing", "found"} {
		if err := os.MkdirAll(filepath.Join(cfg.Server.ImageDir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create image directory: %w", err)
		}
	}

	// Log-Verzeichnis
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
