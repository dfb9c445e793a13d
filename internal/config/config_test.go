package config

import "testing"

func TestLoadDefaultsWithNoEnvOrFlags(t *testing.T) {
	cfg := Load(Config{}, nil)
	if cfg.ContextWarnPct != 70 || cfg.ContextCompactPct != 85 || cfg.ContextKillPct != 95 {
		t.Fatalf("unexpected context thresholds: %+v", cfg)
	}
	if cfg.MaxFailures != 3 || cfg.CommitPrefix != "ralph:" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TIX_MODEL", "claude-test")
	t.Setenv("TIX_MAX_FAILURES", "7")

	cfg := Load(Config{}, nil)
	if cfg.Model != "claude-test" {
		t.Fatalf("Model = %q, want env override", cfg.Model)
	}
	if cfg.MaxFailures != 7 {
		t.Fatalf("MaxFailures = %d, want 7", cfg.MaxFailures)
	}
}

func TestLoadFlagsOutrankEnv(t *testing.T) {
	t.Setenv("TIX_MODEL", "claude-env")

	cfg := Load(Config{Model: "claude-flag"}, map[string]bool{"model": true})
	if cfg.Model != "claude-flag" {
		t.Fatalf("Model = %q, want flag to outrank env", cfg.Model)
	}
}

func TestLoadUnsetFlagNeverClobbersEnv(t *testing.T) {
	t.Setenv("TIX_MODEL", "claude-env")

	// flags.Model is the zero value but "model" was never marked set, so
	// it must not overwrite the env-sourced value.
	cfg := Load(Config{}, map[string]bool{"max_iterations": true, "model": false})
	if cfg.Model != "claude-env" {
		t.Fatalf("Model = %q, want env value preserved", cfg.Model)
	}
}
