package cfg

import (
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		DataPath:       "data",
		TrainingCSV:    "train_transaction.csv",
		Seed:           42,
		NumTrees:       100,
		MaxDepth:       0,
		MinSamplesLeaf: 1,
		MaxFeatures:    0,
		TestFraction:   0.2,
		Workers:        0,
		ListenPort:     8080,
		LogLevel:       "info",
		AuditScores:    true,
		RequestTimeout: 10 * time.Second,
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{"empty data path", func(s *Settings) { s.DataPath = "" }, true},
		{"zero trees", func(s *Settings) { s.NumTrees = 0 }, true},
		{"one tree", func(s *Settings) { s.NumTrees = 1 }, false},
		{"too many trees", func(s *Settings) { s.NumTrees = 5001 }, true},
		{"negative depth", func(s *Settings) { s.MaxDepth = -1 }, true},
		{"max depth", func(s *Settings) { s.MaxDepth = 64 }, false},
		{"too deep", func(s *Settings) { s.MaxDepth = 65 }, true},
		{"zero min samples leaf", func(s *Settings) { s.MinSamplesLeaf = 0 }, true},
		{"negative max features", func(s *Settings) { s.MaxFeatures = -2 }, true},
		{"test fraction too small", func(s *Settings) { s.TestFraction = 0.01 }, true},
		{"test fraction at minimum", func(s *Settings) { s.TestFraction = 0.05 }, false},
		{"test fraction at maximum", func(s *Settings) { s.TestFraction = 0.5 }, false},
		{"test fraction too large", func(s *Settings) { s.TestFraction = 0.6 }, true},
		{"negative workers", func(s *Settings) { s.Workers = -1 }, true},
		{"privileged port", func(s *Settings) { s.ListenPort = 80 }, true},
		{"port out of range", func(s *Settings) { s.ListenPort = 70000 }, true},
		{"bad log level", func(s *Settings) { s.LogLevel = "loud" }, true},
		{"short timeout", func(s *Settings) { s.RequestTimeout = time.Millisecond }, true},
		{"long timeout", func(s *Settings) { s.RequestTimeout = time.Hour }, true},
		{"refit without training data", func(s *Settings) { s.RefitOnStart = true; s.TrainingCSV = "" }, true},
		{"refit with training data", func(s *Settings) { s.RefitOnStart = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}
