package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

// BackendOptions is the externally-configurable surface of the simulated
// tape backend described in the design notes: capacity, emulated
// read-only/early-warning behavior, I/O delay modeling, and drive
// identification. It is loaded through viper so it can come from a config
// file, environment variables, or flags, matching the teacher's
// LoadDMGConfig pattern.
type BackendOptions struct {
	CapacityBytesIP int64  `mapstructure:"capacity_bytes_ip"`
	CapacityBytesDP int64  `mapstructure:"capacity_bytes_dp"`
	EmulateReadOnly bool   `mapstructure:"emulate_readonly"`
	DummyIO         bool   `mapstructure:"dummy_io"`
	DelayMode       string `mapstructure:"delay_mode"` // "none" | "calculate" | "emulate"
	Wraps           int    `mapstructure:"wraps"`
	ChangeDirectionUS int  `mapstructure:"change_direction_us"`
	ChangeTrackUS   int    `mapstructure:"change_track_us"`
	ThreadingSec    int    `mapstructure:"threading_sec"`
	EotToBotSec     int    `mapstructure:"eot_to_bot_sec"`
	CartType        string `mapstructure:"cart_type"`
	DensityCode     int    `mapstructure:"density_code"`
	StrictDrive     bool   `mapstructure:"strict_drive"`
	DisableAutoDump bool   `mapstructure:"disable_auto_dump"`
	CRCChecking     bool   `mapstructure:"crc_checking"`
	WORM            bool   `mapstructure:"worm"`
}

// LoadBackendOptions loads BackendOptions using viper, searching the same
// kind of path set the teacher's config loader uses, with an LTFS_ env
// prefix.
func LoadBackendOptions(explicitPath string) (*BackendOptions, error) {
	v := viper.New()
	v.SetConfigName("ltfs-config")
	v.SetConfigType("yaml")
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.ltfs")
		v.AddConfigPath("/etc/ltfs")
	}

	v.SetDefault("capacity_bytes_ip", 256*1024*1024)
	v.SetDefault("capacity_bytes_dp", 16*1024*1024*1024)
	v.SetDefault("emulate_readonly", false)
	v.SetDefault("dummy_io", false)
	v.SetDefault("delay_mode", "none")
	v.SetDefault("wraps", 1)
	v.SetDefault("cart_type", "LTO9")
	v.SetDefault("density_code", 0x5e)
	v.SetDefault("strict_drive", false)
	v.SetDefault("disable_auto_dump", false)
	v.SetDefault("crc_checking", true)
	v.SetDefault("worm", false)

	v.SetEnvPrefix("LTFS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading ltfs config: %w", err)
		}
	}

	var opts BackendOptions
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("decoding ltfs config: %w", err)
	}
	return &opts, nil
}

// ToTapeOptions converts the loaded config into the shape tape.Options
// expects.
func (o *BackendOptions) ToTapeOptions() tape.Options {
	mode := tape.DelayNone
	switch o.DelayMode {
	case "calculate":
		mode = tape.DelayCalculate
	case "emulate":
		mode = tape.DelayEmulate
	}
	return tape.Options{
		CapacityBytes:   [2]uint64{uint64(o.CapacityBytesIP), uint64(o.CapacityBytesDP)},
		EmulateReadOnly: o.EmulateReadOnly,
		DummyIO:         o.DummyIO,
		DelayMode:       mode,
		Wraps:           o.Wraps,
		CartType:        o.CartType,
		DensityCode:     o.DensityCode,
		StrictDrive:     o.StrictDrive,
		DisableAutoDump: o.DisableAutoDump,
		CRCChecking:     o.CRCChecking,
		WORM:            o.WORM,
	}
}
