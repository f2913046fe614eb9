package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	sum := cfg.Lifecycle.WeightTime + cfg.Lifecycle.WeightUsage +
		cfg.Lifecycle.WeightCeremony + cfg.Lifecycle.WeightConsensus
	if sum != 1.0 {
		t.Errorf("weight sum = %f, want 1.0", sum)
	}
}

func TestLoadWritesDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.DeletionRateCeiling != 0.25 {
		t.Errorf("deletion rate ceiling = %f, want 0.25", cfg.Safety.DeletionRateCeiling)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("expected config.yaml to be created: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "safety:\n  quarantine_days: 14\ndecay:\n  batch_size: 5\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.QuarantineDays != 14 {
		t.Errorf("quarantine days = %d, want 14", cfg.Safety.QuarantineDays)
	}
	if cfg.Decay.BatchSize != 5 {
		t.Errorf("batch size = %d, want 5", cfg.Decay.BatchSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Lifecycle.CalcifyThreshold != 0.7 {
		t.Errorf("calcify threshold = %f, want 0.7", cfg.Lifecycle.CalcifyThreshold)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.WeightTime = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for weights not summing to 1")
	}
}

func TestValidateRejectsBadCeiling(t *testing.T) {
	cfg := Default()
	cfg.Safety.DeletionRateCeiling = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for ceiling > 1")
	}
}
