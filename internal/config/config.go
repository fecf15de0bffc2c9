// Package config loads pipeline assembly options and silence-extractor
// tuning, layered from defaults, an optional config file, environment
// variables, and flags, following the teacher's viper/pflag/mapstructure
// pattern. The CLI commands under cmd/ do not use this package.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level settings struct, unmarshalled from viper.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Silence  SilenceConfig  `mapstructure:"silence"`
	LogLevel string         `mapstructure:"log_level"`
}

// PipelineConfig mirrors the pipeline-assembly options an extractor
// invocation can set.
type PipelineConfig struct {
	FeatureType string `mapstructure:"feature_type"`

	MFCCConfig  string `mapstructure:"mfcc_config"`
	PLPConfig   string `mapstructure:"plp_config"`
	FbankConfig string `mapstructure:"fbank_config"`

	AddPitch          bool   `mapstructure:"add_pitch"`
	OnlinePitchConfig string `mapstructure:"online_pitch_config"`

	CMVNConfig      string `mapstructure:"cmvn_config"`
	GlobalCMVNStats string `mapstructure:"global_cmvn_stats"`

	NVectorEnabled      bool   `mapstructure:"nvector_enabled"`
	NoisePrior          string `mapstructure:"noise_prior"`
	NVectorPeriod       int    `mapstructure:"nvector_period"`
	MaxRememberedFrames int    `mapstructure:"max_remembered_frames"`
}

// SilenceConfig holds the silence-decision extractor's tuning knobs.
type SilenceConfig struct {
	SilencePhones          string `mapstructure:"silence_phones"`
	MaxStateDuration       int    `mapstructure:"max_state_duration"`
	FrameSubsamplingFactor int    `mapstructure:"frame_subsampling_factor"`
}

// LoadOptions mirrors the teacher's config.LoadOptions shape.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			FeatureType:         "mfcc",
			AddPitch:            false,
			NVectorEnabled:      false,
			NVectorPeriod:       100,
			MaxRememberedFrames: 1000,
		},
		Silence: SilenceConfig{
			SilencePhones:          "",
			MaxStateDuration:       0,
			FrameSubsamplingFactor: 1,
		},
		LogLevel: "info",
	}
}

// RegisterFlags registers the pipeline and silence-extractor flags on
// fs. The CLI commands under cmd/ do not call it; each registers only
// its own flags.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("feature-type", defaults.Pipeline.FeatureType, "Base feature type (mfcc|plp|fbank)")
	fs.String("mfcc-config", defaults.Pipeline.MFCCConfig, "MFCC config file")
	fs.String("plp-config", defaults.Pipeline.PLPConfig, "PLP config file")
	fs.String("fbank-config", defaults.Pipeline.FbankConfig, "Fbank config file")
	fs.Bool("add-pitch", defaults.Pipeline.AddPitch, "Append processed pitch to the base feature branch")
	fs.String("online-pitch-config", defaults.Pipeline.OnlinePitchConfig, "Online pitch extraction config file")
	fs.String("cmvn-config", defaults.Pipeline.CMVNConfig, "Enable online CMVN with the given config file")
	fs.String("global-cmvn-stats", defaults.Pipeline.GlobalCMVNStats, "Path to seed global CMVN statistics")
	fs.Bool("nvector-enabled", defaults.Pipeline.NVectorEnabled, "Enable the n-vector branch of the pipeline")
	fs.String("noise-prior", defaults.Pipeline.NoisePrior, "Path to the serialized noise-vector prior")
	fs.Int("nvector-period", defaults.Pipeline.NVectorPeriod, "Frames per n-vector re-estimation")
	fs.Int("max-remembered-frames", defaults.Pipeline.MaxRememberedFrames, "Frame history cap for the n-vector estimator")
	fs.String("silence-phones", defaults.Silence.SilencePhones, "Colon/comma-separated silence phone ids")
	fs.Int("max-state-duration", defaults.Silence.MaxStateDuration, "Force long same-state runs to silence (0 disables)")
	fs.Int("frame-subsampling-factor", defaults.Silence.FrameSubsamplingFactor, "Decoder-frame-rate to feature-frame-rate ratio")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load layers defaults, an optional config file, environment
// variables (prefix NOISEVECTOR), and bound flags, in that increasing
// order of precedence.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("NOISEVECTOR")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("noise-vector")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("pipeline.feature_type", c.Pipeline.FeatureType)
	v.SetDefault("pipeline.mfcc_config", c.Pipeline.MFCCConfig)
	v.SetDefault("pipeline.plp_config", c.Pipeline.PLPConfig)
	v.SetDefault("pipeline.fbank_config", c.Pipeline.FbankConfig)
	v.SetDefault("pipeline.add_pitch", c.Pipeline.AddPitch)
	v.SetDefault("pipeline.online_pitch_config", c.Pipeline.OnlinePitchConfig)
	v.SetDefault("pipeline.cmvn_config", c.Pipeline.CMVNConfig)
	v.SetDefault("pipeline.global_cmvn_stats", c.Pipeline.GlobalCMVNStats)
	v.SetDefault("pipeline.nvector_enabled", c.Pipeline.NVectorEnabled)
	v.SetDefault("pipeline.noise_prior", c.Pipeline.NoisePrior)
	v.SetDefault("pipeline.nvector_period", c.Pipeline.NVectorPeriod)
	v.SetDefault("pipeline.max_remembered_frames", c.Pipeline.MaxRememberedFrames)
	v.SetDefault("silence.silence_phones", c.Silence.SilencePhones)
	v.SetDefault("silence.max_state_duration", c.Silence.MaxStateDuration)
	v.SetDefault("silence.frame_subsampling_factor", c.Silence.FrameSubsamplingFactor)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("pipeline.feature_type", "feature-type")
	v.RegisterAlias("pipeline.mfcc_config", "mfcc-config")
	v.RegisterAlias("pipeline.plp_config", "plp-config")
	v.RegisterAlias("pipeline.fbank_config", "fbank-config")
	v.RegisterAlias("pipeline.add_pitch", "add-pitch")
	v.RegisterAlias("pipeline.online_pitch_config", "online-pitch-config")
	v.RegisterAlias("pipeline.cmvn_config", "cmvn-config")
	v.RegisterAlias("pipeline.global_cmvn_stats", "global-cmvn-stats")
	v.RegisterAlias("pipeline.nvector_enabled", "nvector-enabled")
	v.RegisterAlias("pipeline.noise_prior", "noise-prior")
	v.RegisterAlias("pipeline.nvector_period", "nvector-period")
	v.RegisterAlias("pipeline.max_remembered_frames", "max-remembered-frames")
	v.RegisterAlias("silence.silence_phones", "silence-phones")
	v.RegisterAlias("silence.max_state_duration", "max-state-duration")
	v.RegisterAlias("silence.frame_subsampling_factor", "frame-subsampling-factor")
	v.RegisterAlias("log_level", "log-level")
}

// ParseSilencePhones parses a colon/comma-separated list of phone ids
// into the set D that the silence extractor checks membership against.
func ParseSilencePhones(s string) (map[int]bool, error) {
	out := map[int]bool{}

	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ',' })

	for _, f := range fields {
		id, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("config: invalid silence phone id %q: %w", f, err)
		}

		out[id] = true
	}

	return out, nil
}
