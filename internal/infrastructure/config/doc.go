// Package config handles loading and validating ACS gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ACSGATEWAY_* environment variables
//   - Validation of required fields, reporting every problem at once
//   - Default value handling, including the ISAPI session timings
//
// Security Considerations:
//   - Secrets (JWT secret, secret key, admin hash) should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ISAPI.HeartbeatInterval)
package config
