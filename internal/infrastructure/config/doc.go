// Package config handles loading and validating scheduler configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GROTTSCHED_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Gateway connection values here are defaults. Operators edit the live
// values through the config table (see package settings), which wins
// whenever a row is non-empty.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Host)
package config
