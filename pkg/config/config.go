// Package config loads, substitutes, and validates the daemon's YAML
// configuration document.
package config

import (
	"fmt"

	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

// GatewayConfig describes how to reach the cluster management API.
type GatewayConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	TokenName   string `yaml:"token_name"`
	TokenValue  string `yaml:"token_value"`
	VerifyTLS   *bool  `yaml:"verify_tls"`
	TimeoutSecs int    `yaml:"timeout_s"`
}

// GlobalConfig holds daemon-wide operating settings.
type GlobalConfig struct {
	MonitoringIntervalSecs int    `yaml:"monitoring_interval_s"`
	LogLevel               string `yaml:"log_level"`
	LogFile                string `yaml:"log_file"`
	PIDFile                string `yaml:"pid_file"`
	DryRun                 bool   `yaml:"dry_run"`
}

// SafetyConfig holds the cluster-safety gate's threshold settings.
type SafetyConfig struct {
	MaxConcurrentOperations int     `yaml:"max_concurrent_operations"`
	MaxCPUSafetyPct         float64 `yaml:"max_cpu_safety_pct"`
	MaxMemSafetyPct         float64 `yaml:"max_mem_safety_pct"`
	ResourceCheckIntervalS  int     `yaml:"resource_check_interval_s"`
	EnableHostProtection    *bool   `yaml:"enable_host_protection"`
}

// ThresholdsConfig mirrors types.Thresholds in YAML-friendly field names.
type ThresholdsConfig struct {
	CPUUp   *float64 `yaml:"cpu_up"`
	CPUDown *float64 `yaml:"cpu_down"`
	MemUp   *float64 `yaml:"mem_up"`
	MemDown *float64 `yaml:"mem_down"`
}

// LimitsConfig mirrors types.Limits in YAML-friendly field names.
type LimitsConfig struct {
	MinCores  *int `yaml:"min_cores"`
	MaxCores  *int `yaml:"max_cores"`
	MinMemMB  *int `yaml:"min_mem_mb"`
	MaxMemMB  *int `yaml:"max_mem_mb"`
	CPUStep   *int `yaml:"cpu_step"`
	MemStepMB *int `yaml:"mem_step_mb"`
}

// ContainerConfig is one entry of the containers[] section.
type ContainerConfig struct {
	VMID              int              `yaml:"vmid"`
	Enabled           *bool            `yaml:"enabled"`
	CooldownSeconds   int              `yaml:"cooldown_seconds"`
	EvaluationPeriods int              `yaml:"evaluation_periods"`
	Thresholds        ThresholdsConfig `yaml:"thresholds"`
	Limits            LimitsConfig     `yaml:"limits"`
}

// Document is the raw, as-parsed shape of the YAML configuration file,
// prior to default application and validation.
type Document struct {
	Gateway           GatewayConfig     `yaml:"gateway"`
	Global            GlobalConfig      `yaml:"global"`
	Safety            SafetyConfig      `yaml:"safety"`
	DefaultThresholds ThresholdsConfig  `yaml:"default_thresholds"`
	DefaultLimits     LimitsConfig      `yaml:"default_limits"`
	Containers        []ContainerConfig `yaml:"containers"`
}

// Config is the fully validated, default-applied configuration consumed
// by the rest of the daemon.
type Config struct {
	Gateway           GatewayConfig
	Global            GlobalConfig
	Safety            SafetyConfig
	DefaultThresholds types.Thresholds
	DefaultLimits     types.Limits
	Containers        []types.ContainerPolicy
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: field %q value %v: %s", e.Field, e.Value, e.Message)
}

func newFieldError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
