package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"fraudscore/internal/common"
	"fraudscore/internal/ml"
	"fraudscore/internal/pipeline"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath       string
	TrainingCSV    string
	IdentityCSV    string
	Seed           uint64
	NumTrees       int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
	TestFraction   float64
	Workers        int
	ListenPort     int
	LogLevel       string
	AuditScores    bool
	RefitOnStart   bool
	RequestTimeout time.Duration
}

type ConfigFile struct {
	Data struct {
		Path        string `yaml:"path"`
		TrainingCSV string `yaml:"trainingCSV"`
		IdentityCSV string `yaml:"identityCSV"`
	} `yaml:"data"`

	Model struct {
		Seed           *uint64 `yaml:"seed"`
		NumTrees       int     `yaml:"numTrees"`
		MaxDepth       int     `yaml:"maxDepth"`
		MinSamplesLeaf int     `yaml:"minSamplesLeaf"`
		MaxFeatures    int     `yaml:"maxFeatures"`
		TestFraction   float64 `yaml:"testFraction"`
		Workers        int     `yaml:"workers"`
	} `yaml:"model"`

	Server struct {
		ListenPort     int    `yaml:"listenPort"`
		LogLevel       string `yaml:"logLevel"`
		AuditScores    *bool  `yaml:"auditScores"`
		RefitOnStart   bool   `yaml:"refitOnStart"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE
// or, without one, the environment. Environment variables always win over
// file values.
func Load() (Settings, error) {
	loadDotEnv()

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadDotEnv() {
	path := getEnvOrDefault(common.EnvDotEnvFile, common.DefaultDotEnvFile)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("Failed to load env file")
	}
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout, _ = time.ParseDuration(common.DefaultRequestTimeout)
	}

	seed := uint64(common.DefaultSeed)
	if config.Model.Seed != nil {
		seed = *config.Model.Seed
	}
	audit := common.DefaultAuditScores
	if config.Server.AuditScores != nil {
		audit = *config.Server.AuditScores
	}

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, orDefault(config.Data.Path, common.DefaultDataPath)),
		TrainingCSV:    getEnvOrDefault(common.EnvTrainingCSV, config.Data.TrainingCSV),
		IdentityCSV:    getEnvOrDefault(common.EnvIdentityCSV, config.Data.IdentityCSV),
		Seed:           getUintOrDefault(common.EnvSeed, seed),
		NumTrees:       getIntFromEnvOrConfig(common.EnvNumTrees, config.Model.NumTrees, common.DefaultNumTrees),
		MaxDepth:       getIntFromEnvOrConfig(common.EnvMaxDepth, config.Model.MaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntFromEnvOrConfig(common.EnvMinSamplesLeaf, config.Model.MinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:    getIntFromEnvOrConfig(common.EnvMaxFeatures, config.Model.MaxFeatures, common.DefaultMaxFeatures),
		TestFraction:   getFloatFromEnvOrConfig(common.EnvTestFraction, config.Model.TestFraction, common.DefaultTestFraction),
		Workers:        getIntFromEnvOrConfig(common.EnvWorkers, config.Model.Workers, common.DefaultWorkers),
		ListenPort:     getIntFromEnvOrConfig(common.EnvListenPort, config.Server.ListenPort, common.DefaultListenPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.Server.LogLevel, common.DefaultLogLevel)),
		AuditScores:    getBoolOrDefault(common.EnvAuditScores, audit),
		RefitOnStart:   getBoolOrDefault(common.EnvRefitOnStart, config.Server.RefitOnStart),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	defaultTimeout, _ := time.ParseDuration(common.DefaultRequestTimeout)

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		TrainingCSV:    os.Getenv(common.EnvTrainingCSV), // optional
		IdentityCSV:    os.Getenv(common.EnvIdentityCSV), // optional
		Seed:           getUintOrDefault(common.EnvSeed, common.DefaultSeed),
		NumTrees:       getIntOrDefault(common.EnvNumTrees, common.DefaultNumTrees),
		MaxDepth:       getIntOrDefault(common.EnvMaxDepth, common.DefaultMaxDepth),
		MinSamplesLeaf: getIntOrDefault(common.EnvMinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:    getIntOrDefault(common.EnvMaxFeatures, common.DefaultMaxFeatures),
		TestFraction:   getFloatOrDefault(common.EnvTestFraction, common.DefaultTestFraction),
		Workers:        getIntOrDefault(common.EnvWorkers, common.DefaultWorkers),
		ListenPort:     getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		AuditScores:    getBoolOrDefault(common.EnvAuditScores, common.DefaultAuditScores),
		RefitOnStart:   getBoolOrDefault(common.EnvRefitOnStart, common.DefaultRefitOnStart),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, defaultTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ModelConfig returns the ensemble settings.
func (s *Settings) ModelConfig() ml.Config {
	return ml.Config{
		NumTrees:       s.NumTrees,
		MaxDepth:       s.MaxDepth,
		MinSamplesLeaf: s.MinSamplesLeaf,
		MaxFeatures:    s.MaxFeatures,
		Seed:           s.Seed,
		Workers:        s.Workers,
	}
}

// PipelineConfig returns the fit settings for the default schema.
func (s *Settings) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Model = s.ModelConfig()
	cfg.TestFraction = s.TestFraction
	return cfg
}

// Level returns the zerolog level named by LogLevel.
func (s *Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	// Validate ensemble parameters
	if settings.NumTrees < common.MinNumTrees || settings.NumTrees > common.MaxNumTrees {
		return fmt.Errorf("number of trees must be between %d and %d, got %d", common.MinNumTrees, common.MaxNumTrees, settings.NumTrees)
	}
	if settings.MaxDepth < 0 || settings.MaxDepth > common.MaxTreeDepth {
		return fmt.Errorf("max depth must be between 0 (unlimited) and %d, got %d", common.MaxTreeDepth, settings.MaxDepth)
	}
	if settings.MinSamplesLeaf < 1 || settings.MinSamplesLeaf > common.MaxMinSamplesLeaf {
		return fmt.Errorf("min samples per leaf must be between 1 and %d, got %d", common.MaxMinSamplesLeaf, settings.MinSamplesLeaf)
	}
	if settings.MaxFeatures < 0 {
		return fmt.Errorf("max features cannot be negative, got %d", settings.MaxFeatures)
	}
	if settings.TestFraction < common.MinTestFraction || settings.TestFraction > common.MaxTestFraction {
		return fmt.Errorf("test fraction must be between %.2f and %.2f, got %f", common.MinTestFraction, common.MaxTestFraction, settings.TestFraction)
	}
	if settings.Workers < 0 || settings.Workers > common.MaxWorkers {
		return fmt.Errorf("workers must be between 0 (GOMAXPROCS) and %d, got %d", common.MaxWorkers, settings.Workers)
	}

	// Validate server parameters
	if settings.ListenPort < common.MinListenPort || settings.ListenPort > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.ListenPort)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 5m, got %v", settings.RequestTimeout)
	}

	if settings.RefitOnStart && settings.TrainingCSV == "" {
		return fmt.Errorf("refit on start: %s", common.ErrMsgTrainingRequired)
	}

	return nil
}
