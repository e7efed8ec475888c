package vm

import (
	"github.com/spf13/viper"
)

// ResourcePolicy holds the tunable resource-limit knobs named in §6: the
// per-instruction energy debit, default sleep granularity, and max heap
// bytes. Defaults match the spec's built-in constants (§9) when no config
// file is supplied.
type ResourcePolicy struct {
	EnergyPerStep      float32 `mapstructure:"energy_per_step"`
	DefaultSleepGrain  float32 `mapstructure:"default_sleep_grain"`
	MaxHeapBytes       int32   `mapstructure:"max_heap_bytes"`
}

// DefaultResourcePolicy returns the spec's built-in defaults.
func DefaultResourcePolicy() ResourcePolicy {
	return ResourcePolicy{
		EnergyPerStep:     energyPerStep,
		DefaultSleepGrain: 0.1,
		MaxHeapBytes:      1 << 20,
	}
}

// LoadResourcePolicy reads a YAML/TOML/JSON config file at path via viper,
// falling back to DefaultResourcePolicy for any field the file omits, or
// entirely when path is empty.
func LoadResourcePolicy(path string) (ResourcePolicy, error) {
	policy := DefaultResourcePolicy()
	if path == "" {
		return policy, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("energy_per_step", policy.EnergyPerStep)
	v.SetDefault("default_sleep_grain", policy.DefaultSleepGrain)
	v.SetDefault("max_heap_bytes", policy.MaxHeapBytes)

	if err := v.ReadInConfig(); err != nil {
		return policy, err
	}
	if err := v.Unmarshal(&policy); err != nil {
		return policy, err
	}
	return policy, nil
}
