// Package config handles loading and validating the Netatmo bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT passwords should be set via environment variables
//   - The Netatmo credential file is not part of this configuration; only its
//     path is. It holds the OAuth2 client secret and must stay at 0600
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Netatmo.HomeID)
package config
