// Package config provides configuration management for hiermem.
//
// Configuration is loaded from YAML files via viper with sensible
// defaults for every engine tunable.
package config
