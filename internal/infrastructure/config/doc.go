// Package config handles loading and validating the farm control core
// service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading secrets from an optional dotenv file
//   - Overriding with FARMCORE_* environment variables
//   - Validation of required fields
//
// The plant description (ports, points, equipment and rules) lives in a
// separate file referenced by plant_file and is loaded by the plant package.
//
// Usage:
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
