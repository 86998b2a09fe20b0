// Package config provides configuration loading and validation for the
// streaming ASR service. Values come from a YAML file layered over Default
// and can be overridden by command line flags before Validate is called.
package config
