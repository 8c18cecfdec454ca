package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// overlayFile reads a deployment YAML file of flat keys and applies it over
// cfg. Unknown non-template keys are an error so typos surface at startup.
func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for key, value := range values {
		value = coerceBool(value)

		if strings.HasPrefix(key, "template.") {
			cfg.Template[strings.TrimPrefix(key, "template.")] = value
			continue
		}

		switch key {
		case "database_dsn":
			cfg.DatabaseDSN = asString(value)
		case "signing_secret":
			cfg.SigningSecret = asString(value)
		case "query_dir":
			cfg.QueryDir = asString(value)
		case "query_check_interval":
			d, err := time.ParseDuration(asString(value))
			if err != nil {
				return fmt.Errorf("config %s: %s: %w", path, key, err)
			}
			cfg.QueryCheckInterval = d
		case "deferred_tick_interval":
			d, err := time.ParseDuration(asString(value))
			if err != nil {
				return fmt.Errorf("config %s: %s: %w", path, key, err)
			}
			cfg.DeferredTickInterval = d
		case "chip_vacuum_age":
			d, err := time.ParseDuration(asString(value))
			if err != nil {
				return fmt.Errorf("config %s: %s: %w", path, key, err)
			}
			cfg.ChipVacuumAge = d
		case "email_from":
			cfg.EmailFrom = asString(value)
		case "analyzer_base_url":
			cfg.AnalyzerBaseURL = asString(value)
		case "s3_root_user":
			cfg.S3RootUser = asString(value)
		case "s3_root_password":
			cfg.S3RootPassword = asString(value)
		case "s3_bucket":
			cfg.S3Bucket = asString(value)
		case "s3_region":
			cfg.S3Region = asString(value)
		case "s3_base_endpoint":
			cfg.S3BaseEndpoint = asString(value)
		default:
			return fmt.Errorf("config %s: unknown key %q", path, key)
		}
	}
	return nil
}

// coerceBool turns the literal strings "True"/"False" into booleans; older
// deployment files carry them that way.
func coerceBool(v any) any {
	switch v {
	case "True":
		return true
	case "False":
		return false
	default:
		return v
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
