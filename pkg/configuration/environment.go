package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/forgeworks/cutover/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"cutover"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type LoadOptions struct {
	// CreateWorkers bounds concurrent creates within one sub-batch.
	CreateWorkers int `env:"LOAD_CREATE_WORKERS" envDefault:"8"`
	// CheckpointInterval is the sequential-path checkpoint cadence in records.
	// 0 keeps only the end-of-plan checkpoint.
	CheckpointInterval int `env:"LOAD_CHECKPOINT_INTERVAL" envDefault:"50"`
	BatchSize          int `env:"LOAD_BATCH_SIZE" envDefault:"500"`
}

func (o *LoadOptions) Validate() error {
	if o.CreateWorkers <= 0 {
		return fmt.Errorf("LOAD_CREATE_WORKERS must be positive, got %d", o.CreateWorkers)
	}
	if o.CheckpointInterval < 0 {
		return fmt.Errorf("LOAD_CHECKPOINT_INTERVAL must be non-negative, got %d", o.CheckpointInterval)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("LOAD_BATCH_SIZE must be positive, got %d", o.BatchSize)
	}
	return nil
}

type ConflictOptions struct {
	Strategy           string  `env:"CONFLICT_STRATEGY" envDefault:"merge"`
	AutoMergeScore     float64 `env:"CONFLICT_AUTO_MERGE_SCORE" envDefault:"80"`
	ManualReviewScore  float64 `env:"CONFLICT_MANUAL_REVIEW_SCORE" envDefault:"50"`
	DetectorCandidates int     `env:"CONFLICT_DETECTOR_CANDIDATES" envDefault:"5"`
}

func (o *ConflictOptions) Validate() error {
	switch o.Strategy {
	case "skip", "overwrite", "merge", "manual":
	default:
		return fmt.Errorf("invalid CONFLICT_STRATEGY=%q (expected skip|overwrite|merge|manual)", o.Strategy)
	}
	if o.AutoMergeScore < o.ManualReviewScore {
		return fmt.Errorf("CONFLICT_AUTO_MERGE_SCORE (%v) must be >= CONFLICT_MANUAL_REVIEW_SCORE (%v)",
			o.AutoMergeScore, o.ManualReviewScore)
	}
	return nil
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:"localhost:9464"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type Configuration struct {
	Database   DatabaseOptions
	Load       LoadOptions
	Conflict   ConflictOptions
	Prometheus PrometheusOptions

	TransformConfig  string `env:"TRANSFORM_CONFIG" envDefault:"config/transform.yaml"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/cutover.log"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	c.Conflict.Strategy = strings.ToLower(strings.TrimSpace(c.Conflict.Strategy))
	if err := c.Conflict.Validate(); err != nil {
		return fmt.Errorf("conflict configuration error: %w", err)
	}
	if err := c.Load.Validate(); err != nil {
		return fmt.Errorf("load configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
