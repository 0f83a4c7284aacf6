package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidLogFormat      = errors.New("invalid log format")
	ErrInvalidInboxCapacity  = errors.New("invalid inbox capacity")
	ErrInvalidTimeout        = errors.New("invalid timeout")
	ErrInvalidMaxHandles     = errors.New("invalid max handles")
	ErrInvalidMetricsAddress = errors.New("invalid metrics address")
	ErrInvalidMetricsPath    = errors.New("invalid metrics path")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
