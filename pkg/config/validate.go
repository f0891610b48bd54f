package config

import (
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func resolveThresholds(base types.Thresholds, override ThresholdsConfig) types.Thresholds {
	return types.Thresholds{
		CPUUp:   floatOr(override.CPUUp, base.CPUUp),
		CPUDown: floatOr(override.CPUDown, base.CPUDown),
		MemUp:   floatOr(override.MemUp, base.MemUp),
		MemDown: floatOr(override.MemDown, base.MemDown),
	}
}

func resolveLimits(base types.Limits, override LimitsConfig) types.Limits {
	return types.Limits{
		MinCores:  intOr(override.MinCores, base.MinCores),
		MaxCores:  intOr(override.MaxCores, base.MaxCores),
		MinMemMB:  intOr(override.MinMemMB, base.MinMemMB),
		MaxMemMB:  intOr(override.MaxMemMB, base.MaxMemMB),
		CPUStep:   intOr(override.CPUStep, base.CPUStep),
		MemStepMB: intOr(override.MemStepMB, base.MemStepMB),
	}
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// FromDocument applies defaults and validates a raw Document, producing the
// Config consumed by the rest of the daemon. It returns the first
// ValidationError encountered.
func FromDocument(doc Document) (*Config, error) {
	cfg := &Config{
		Gateway: doc.Gateway,
		Global:  doc.Global,
		Safety:  doc.Safety,
	}

	if cfg.Gateway.Host == "" {
		return nil, newFieldError("gateway.host", cfg.Gateway.Host, "is required")
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8006
	}
	hasPassword := cfg.Gateway.Password != ""
	hasToken := cfg.Gateway.TokenName != "" && cfg.Gateway.TokenValue != ""
	if hasPassword == hasToken {
		return nil, newFieldError("gateway", nil, "exactly one of password or (token_name, token_value) must be set")
	}
	if doc.Gateway.TimeoutSecs == 0 {
		cfg.Gateway.TimeoutSecs = 30
	}
	verifyTLS := true
	if doc.Gateway.VerifyTLS != nil {
		verifyTLS = *doc.Gateway.VerifyTLS
	}
	cfg.Gateway.VerifyTLS = &verifyTLS

	if cfg.Global.MonitoringIntervalSecs == 0 {
		cfg.Global.MonitoringIntervalSecs = 60
	}
	if cfg.Global.MonitoringIntervalSecs < 30 {
		return nil, newFieldError("global.monitoring_interval_s", cfg.Global.MonitoringIntervalSecs, "must be >= 30")
	}
	if cfg.Global.LogLevel == "" {
		cfg.Global.LogLevel = "INFO"
	}
	if !validLogLevels[cfg.Global.LogLevel] {
		return nil, newFieldError("global.log_level", cfg.Global.LogLevel, "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}

	if cfg.Safety.MaxConcurrentOperations == 0 {
		cfg.Safety.MaxConcurrentOperations = 3
	}
	if cfg.Safety.MaxConcurrentOperations < 1 {
		return nil, newFieldError("safety.max_concurrent_operations", cfg.Safety.MaxConcurrentOperations, "must be >= 1")
	}
	if cfg.Safety.MaxCPUSafetyPct == 0 {
		cfg.Safety.MaxCPUSafetyPct = 95
	}
	if cfg.Safety.MaxCPUSafetyPct < 50 || cfg.Safety.MaxCPUSafetyPct > 100 {
		return nil, newFieldError("safety.max_cpu_safety_pct", cfg.Safety.MaxCPUSafetyPct, "must be between 50 and 100")
	}
	if cfg.Safety.MaxMemSafetyPct == 0 {
		cfg.Safety.MaxMemSafetyPct = 95
	}
	if cfg.Safety.MaxMemSafetyPct < 50 || cfg.Safety.MaxMemSafetyPct > 100 {
		return nil, newFieldError("safety.max_mem_safety_pct", cfg.Safety.MaxMemSafetyPct, "must be between 50 and 100")
	}
	if cfg.Safety.ResourceCheckIntervalS == 0 {
		cfg.Safety.ResourceCheckIntervalS = 30
	}
	hostProtection := true
	if doc.Safety.EnableHostProtection != nil {
		hostProtection = *doc.Safety.EnableHostProtection
	}
	cfg.Safety.EnableHostProtection = &hostProtection

	cfg.DefaultThresholds = resolveThresholds(types.Thresholds{CPUUp: 80, CPUDown: 30, MemUp: 85, MemDown: 40}, doc.DefaultThresholds)
	if cfg.DefaultThresholds.CPUUp <= cfg.DefaultThresholds.CPUDown {
		return nil, newFieldError("default_thresholds", cfg.DefaultThresholds, "cpu_up must be greater than cpu_down")
	}
	if cfg.DefaultThresholds.MemUp <= cfg.DefaultThresholds.MemDown {
		return nil, newFieldError("default_thresholds", cfg.DefaultThresholds, "mem_up must be greater than mem_down")
	}

	cfg.DefaultLimits = resolveLimits(types.Limits{MinCores: 1, MaxCores: 8, MinMemMB: 512, MaxMemMB: 8192, CPUStep: 1, MemStepMB: 256}, doc.DefaultLimits)
	if err := validateLimits("default_limits", cfg.DefaultLimits); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(doc.Containers))
	for _, c := range doc.Containers {
		if c.VMID < 100 || c.VMID > 999999999 {
			return nil, newFieldError("containers[].vmid", c.VMID, "must be between 100 and 999999999")
		}
		if seen[c.VMID] {
			return nil, newFieldError("containers[].vmid", c.VMID, "duplicate vmid")
		}
		seen[c.VMID] = true

		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		cooldown := c.CooldownSeconds
		if cooldown == 0 {
			cooldown = 300
		}
		if cooldown < 60 {
			return nil, newFieldError("containers[].cooldown_seconds", cooldown, "must be >= 60")
		}
		periods := c.EvaluationPeriods
		if periods == 0 {
			periods = 3
		}
		if periods < 1 {
			return nil, newFieldError("containers[].evaluation_periods", periods, "must be >= 1")
		}

		thresholds := resolveThresholds(cfg.DefaultThresholds, c.Thresholds)
		if thresholds.CPUUp <= thresholds.CPUDown {
			return nil, newFieldError("containers[].thresholds", thresholds, "cpu_up must be greater than cpu_down")
		}
		if thresholds.MemUp <= thresholds.MemDown {
			return nil, newFieldError("containers[].thresholds", thresholds, "mem_up must be greater than mem_down")
		}

		limits := resolveLimits(cfg.DefaultLimits, c.Limits)
		if err := validateLimits("containers[].limits", limits); err != nil {
			return nil, err
		}

		cfg.Containers = append(cfg.Containers, types.ContainerPolicy{
			VMID:              c.VMID,
			Enabled:           enabled,
			Thresholds:        thresholds,
			Limits:            limits,
			CooldownSeconds:   cooldown,
			EvaluationPeriods: periods,
		})
	}

	return cfg, nil
}

func validateLimits(field string, l types.Limits) error {
	if l.MinCores >= l.MaxCores {
		return newFieldError(field, l, "min_cores must be less than max_cores")
	}
	if l.MinMemMB >= l.MaxMemMB {
		return newFieldError(field, l, "min_mem_mb must be less than max_mem_mb")
	}
	if l.CPUStep <= 0 {
		return newFieldError(field, l, "cpu_step must be positive")
	}
	if l.MemStepMB <= 0 {
		return newFieldError(field, l, "mem_step_mb must be positive")
	}
	return nil
}
