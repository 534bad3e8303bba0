// Package config loads the service configuration. Static settings
// come from IDBRIDGE_-prefixed environment variables; the coexistence
// policy lives in a YAML file that is reloaded on change, so the flag
// can flip without a restart and every credential check reads the
// last written value.
package config
