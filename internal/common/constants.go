package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvDotEnvFile     = "DOTENV_FILE"
	EnvDataPath       = "DATA_PATH"
	EnvTrainingCSV    = "TRAINING_CSV"
	EnvIdentityCSV    = "IDENTITY_CSV"
	EnvSeed           = "SEED"
	EnvNumTrees       = "NUM_TREES"
	EnvMaxDepth       = "MAX_DEPTH"
	EnvMinSamplesLeaf = "MIN_SAMPLES_LEAF"
	EnvMaxFeatures    = "MAX_FEATURES"
	EnvTestFraction   = "TEST_FRACTION"
	EnvWorkers        = "WORKERS"
	EnvListenPort     = "LISTEN_PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvAuditScores    = "AUDIT_SCORES"
	EnvRefitOnStart   = "REFIT_ON_START"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
)

// Configuration defaults
const (
	DefaultDataPath       = "data"
	DefaultDotEnvFile     = ".env"
	DefaultSeed           = 42
	DefaultNumTrees       = 100
	DefaultMaxDepth       = 0 // grow until pure
	DefaultMinSamplesLeaf = 1
	DefaultMaxFeatures    = 0 // floor(sqrt(features))
	DefaultTestFraction   = 0.2
	DefaultWorkers        = 0 // GOMAXPROCS
	DefaultListenPort     = 8080
	DefaultLogLevel       = "info"
	DefaultAuditScores    = true
	DefaultRefitOnStart   = false
	DefaultRequestTimeout = "10s"
)

// Validation constants
const (
	MinNumTrees       = 1
	MaxNumTrees       = 5000
	MaxTreeDepth      = 64
	MaxMinSamplesLeaf = 10000
	MinTestFraction   = 0.05
	MaxTestFraction   = 0.5
	MaxWorkers        = 1024
	MinListenPort     = 1024
	MaxListenPort     = 65535
	MaxBatchSize      = 1000
	MaxRequestBytes   = 1 << 20
)

// HTTP routes served by the scoring server
const (
	RouteScore      = "/v1/score"
	RouteScoreBatch = "/v1/score/batch"
	RouteModel      = "/v1/model"
	RouteHealth     = "/health"
	RouteMetrics    = "/metrics"
)

// Common error messages
const (
	ErrMsgNoModel          = "no fitted model is loaded"
	ErrMsgTrainingRequired = "a training CSV is required to fit a model"
)
