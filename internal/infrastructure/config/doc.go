// Package config handles loading and validating daplog configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The daemon runs without a config file at all: Default() applies the
// built-in values plus DAPLOG_* environment overrides, which covers the
// usual containerised deployment (log root and baud rate from env).
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/daplog.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.LogRoot)
package config
