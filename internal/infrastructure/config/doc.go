// Package config handles loading and validating Gray Logic Reporter configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Spreading the defaults section into every device entry
//   - Validation of the global sections and of individual devices
//
// A broken device entry never stops the others: Validate only covers the
// global sections, and the reporter calls ValidateDevice per entry, skipping
// the ones that fail.
//
// Security Considerations:
//   - Credentials (MQTT password, hub token, InfluxDB token) should be set
//     via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/reporter.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range cfg.Sensors {
//	    if err := cfg.ValidateDevice(s); err != nil {
//	        log.Printf("skipping: %v", err)
//	    }
//	}
package config
