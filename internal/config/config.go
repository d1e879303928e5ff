package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "JAMDECK"

type GlobalsConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
	LibraryDirectory    string `mapstructure:"library_directory" yaml:"library_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Record   RecordConfig   `mapstructure:"record" yaml:"record"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`

	// Profile is the name of the resolved profile
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo maps a dotted setting name to "inherited" or "profile-specific"
type InheritanceInfo struct {
	Fields map[string]string
}

// Source returns how a setting was resolved, or "default" if neither
// the default profile nor the selected one set it
func (i *InheritanceInfo) Source(field string) string {
	if i == nil {
		return "default"
	}
	if s, ok := i.Fields[field]; ok {
		return s
	}
	return "default"
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	BitDepth   int    `mapstructure:"bit_depth" yaml:"bit_depth"`
	Backend    string `mapstructure:"backend" yaml:"backend"` // "pulse", "pipewire", "alsa", "auto"
	Device     string `mapstructure:"device" yaml:"device"`
	BufferMs   int    `mapstructure:"buffer_ms" yaml:"buffer_ms"`
}

// Format returns the capture format
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels, BitDepth: a.BitDepth}
}

type RecordConfig struct {
	Directory     string `mapstructure:"directory" yaml:"directory"`
	AutoEncode    *bool  `mapstructure:"auto_encode" yaml:"auto_encode,omitempty"`
	KeepRaw       *bool  `mapstructure:"keep_raw" yaml:"keep_raw,omitempty"`
	JoinTimeoutMs int    `mapstructure:"join_timeout_ms" yaml:"join_timeout_ms"`
}

func (r RecordConfig) ShouldAutoEncode() bool {
	return r.AutoEncode == nil || *r.AutoEncode
}

func (r RecordConfig) ShouldKeepRaw() bool {
	return r.KeepRaw != nil && *r.KeepRaw
}

func (r RecordConfig) JoinTimeout() time.Duration {
	return time.Duration(r.JoinTimeoutMs) * time.Millisecond
}

type PlaybackConfig struct {
	LibraryDirectory string   `mapstructure:"library_directory" yaml:"library_directory"`
	Extensions       []string `mapstructure:"extensions" yaml:"extensions"`
	DuckVolume       float64  `mapstructure:"duck_volume" yaml:"duck_volume"`
	SampleRate       int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels         int      `mapstructure:"channels" yaml:"channels"`
	OutputBufferMs   int      `mapstructure:"output_buffer_ms" yaml:"output_buffer_ms"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Advertise   *bool  `mapstructure:"advertise" yaml:"advertise,omitempty"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// WatchDevices enables the PulseAudio device and interruption watcher
	WatchDevices *bool `mapstructure:"watch_devices" yaml:"watch_devices,omitempty"`
}

func (s ServerConfig) ShouldAdvertise() bool {
	return s.Advertise != nil && *s.Advertise
}

func (s ServerConfig) ShouldWatchDevices() bool {
	return s.WatchDevices == nil || *s.WatchDevices
}

type NotifyConfig struct {
	Desktop *bool `mapstructure:"desktop" yaml:"desktop,omitempty"`
}

func (n NotifyConfig) Enabled() bool {
	return n.Desktop != nil && *n.Desktop
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate: 44100,
		Channels:   1,
		BitDepth:   16,
		Backend:    "auto",
		BufferMs:   40,
	},
	Record: RecordConfig{
		Directory:     filepath.Join(os.Getenv("HOME"), "Audio", "JamDeck"),
		JoinTimeoutMs: 2000,
	},
	Playback: PlaybackConfig{
		LibraryDirectory: filepath.Join(os.Getenv("HOME"), "Music"),
		Extensions:       []string{".wav", ".mp3", ".flac"},
		DuckVolume:       0.2,
		SampleRate:       44100,
		Channels:         2,
	},
	Server: ServerConfig{
		Host:        "",
		Port:        8080,
		ServiceName: "jamdeck",
	},
}

// Default returns the built-in configuration
func Default() *Config {
	c := defaultConfig
	c.Playback.Extensions = append([]string(nil), defaultConfig.Playback.Extensions...)
	c.Profile = "default"
	applyEnvOverrides(&c)
	return &c
}

// Load resolves the active profile, or the built-in defaults when the file
// does not exist.
func Load(configFile, profile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) && profile == "" {
			slog.Debug("Config file not found, using defaults", "path", configFile)
			return Default(), nil
		}
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Selection & fallback: the default profile fills whatever the selected
	// profile leaves unset, and built-in defaults fill the rest
	base := rootConfig.Configs["default"]
	if configName == "default" {
		base = nil
	}
	resolved := mergeConfigs(base, selected)
	resolved.Profile = configName

	if rootConfig.Globals != nil {
		if rootConfig.Globals.RecordingsDirectory != "" {
			resolved.Record.Directory = rootConfig.Globals.RecordingsDirectory
		}
		if rootConfig.Globals.LibraryDirectory != "" {
			resolved.Playback.LibraryDirectory = rootConfig.Globals.LibraryDirectory
		}
	}

	applyDefaults(resolved)
	applyEnvOverrides(resolved)

	resolved.Record.Directory = expandPath(resolved.Record.Directory)
	resolved.Playback.LibraryDirectory = expandPath(resolved.Playback.LibraryDirectory)

	if err := Validate(resolved); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := root.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// WriteDefault writes a starter config file with a single default profile
func WriteDefault(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists: %s", configFile)
	}

	starter := defaultConfig
	root := RootConfig{
		ActiveConfig: "default",
		Configs:      map[string]*Config{"default": &starter},
	}
	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays profile on base and records which settings came
// from where.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{Fields: make(map[string]string)}}
	track := result.Inheritance.Fields

	if base != nil {
		result.Audio = base.Audio
		result.Record = base.Record
		result.Playback = base.Playback
		result.Server = base.Server
		result.Notify = base.Notify
		result.Playback.Extensions = append([]string(nil), base.Playback.Extensions...)
	}

	pickInt := func(name string, dst *int, baseVal, profileVal int) {
		if profileVal != 0 {
			*dst = profileVal
			track[name] = "profile-specific"
		} else if baseVal != 0 {
			track[name] = "inherited"
		}
	}
	pickString := func(name string, dst *string, baseVal, profileVal string) {
		if profileVal != "" {
			*dst = profileVal
			track[name] = "profile-specific"
		} else if baseVal != "" {
			track[name] = "inherited"
		}
	}
	pickBool := func(name string, dst **bool, baseVal, profileVal *bool) {
		if profileVal != nil {
			*dst = profileVal
			track[name] = "profile-specific"
		} else if baseVal != nil {
			track[name] = "inherited"
		}
	}

	var b Config
	if base != nil {
		b = *base
	}
	p := profile

	pickInt("audio.sample_rate", &result.Audio.SampleRate, b.Audio.SampleRate, p.Audio.SampleRate)
	pickInt("audio.channels", &result.Audio.Channels, b.Audio.Channels, p.Audio.Channels)
	pickInt("audio.bit_depth", &result.Audio.BitDepth, b.Audio.BitDepth, p.Audio.BitDepth)
	pickString("audio.backend", &result.Audio.Backend, b.Audio.Backend, p.Audio.Backend)
	pickString("audio.device", &result.Audio.Device, b.Audio.Device, p.Audio.Device)
	pickInt("audio.buffer_ms", &result.Audio.BufferMs, b.Audio.BufferMs, p.Audio.BufferMs)

	pickString("record.directory", &result.Record.Directory, b.Record.Directory, p.Record.Directory)
	pickBool("record.auto_encode", &result.Record.AutoEncode, b.Record.AutoEncode, p.Record.AutoEncode)
	pickBool("record.keep_raw", &result.Record.KeepRaw, b.Record.KeepRaw, p.Record.KeepRaw)
	pickInt("record.join_timeout_ms", &result.Record.JoinTimeoutMs, b.Record.JoinTimeoutMs, p.Record.JoinTimeoutMs)

	pickString("playback.library_directory", &result.Playback.LibraryDirectory, b.Playback.LibraryDirectory, p.Playback.LibraryDirectory)
	if len(p.Playback.Extensions) > 0 {
		result.Playback.Extensions = append([]string(nil), p.Playback.Extensions...)
		track["playback.extensions"] = "profile-specific"
	} else if len(b.Playback.Extensions) > 0 {
		track["playback.extensions"] = "inherited"
	}
	if p.Playback.DuckVolume != 0 {
		result.Playback.DuckVolume = p.Playback.DuckVolume
		track["playback.duck_volume"] = "profile-specific"
	} else if b.Playback.DuckVolume != 0 {
		track["playback.duck_volume"] = "inherited"
	}
	pickInt("playback.sample_rate", &result.Playback.SampleRate, b.Playback.SampleRate, p.Playback.SampleRate)
	pickInt("playback.channels", &result.Playback.Channels, b.Playback.Channels, p.Playback.Channels)
	pickInt("playback.output_buffer_ms", &result.Playback.OutputBufferMs, b.Playback.OutputBufferMs, p.Playback.OutputBufferMs)

	pickString("server.host", &result.Server.Host, b.Server.Host, p.Server.Host)
	pickInt("server.port", &result.Server.Port, b.Server.Port, p.Server.Port)
	pickBool("server.advertise", &result.Server.Advertise, b.Server.Advertise, p.Server.Advertise)
	pickString("server.service_name", &result.Server.ServiceName, b.Server.ServiceName, p.Server.ServiceName)
	pickBool("server.watch_devices", &result.Server.WatchDevices, b.Server.WatchDevices, p.Server.WatchDevices)

	pickBool("notify.desktop", &result.Notify.Desktop, b.Notify.Desktop, p.Notify.Desktop)

	return result
}

// applyDefaults fills settings left unset by every profile
func applyDefaults(c *Config) {
	d := defaultConfig
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = d.Audio.Channels
	}
	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = d.Audio.BitDepth
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = d.Audio.Backend
	}
	if c.Audio.BufferMs == 0 {
		c.Audio.BufferMs = d.Audio.BufferMs
	}
	if c.Record.Directory == "" {
		c.Record.Directory = d.Record.Directory
	}
	if c.Record.JoinTimeoutMs == 0 {
		c.Record.JoinTimeoutMs = d.Record.JoinTimeoutMs
	}
	if c.Playback.LibraryDirectory == "" {
		c.Playback.LibraryDirectory = d.Playback.LibraryDirectory
	}
	if len(c.Playback.Extensions) == 0 {
		c.Playback.Extensions = append([]string(nil), d.Playback.Extensions...)
	}
	if c.Playback.DuckVolume == 0 {
		c.Playback.DuckVolume = d.Playback.DuckVolume
	}
	if c.Playback.SampleRate == 0 {
		c.Playback.SampleRate = d.Playback.SampleRate
	}
	if c.Playback.Channels == 0 {
		c.Playback.Channels = d.Playback.Channels
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ServiceName == "" {
		c.Server.ServiceName = d.Server.ServiceName
	}
}

// applyEnvOverrides applies JAMDECK_<SECTION>_<KEY> variables to the
// resolved profile
func applyEnvOverrides(c *Config) {
	env := viper.New()
	env.SetEnvPrefix(envPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()

	if env.IsSet("audio.device") {
		c.Audio.Device = env.GetString("audio.device")
	}
	if env.IsSet("audio.backend") {
		c.Audio.Backend = env.GetString("audio.backend")
	}
	if env.IsSet("audio.sample_rate") {
		c.Audio.SampleRate = env.GetInt("audio.sample_rate")
	}
	if env.IsSet("record.directory") {
		c.Record.Directory = env.GetString("record.directory")
	}
	if env.IsSet("playback.library_directory") {
		c.Playback.LibraryDirectory = env.GetString("playback.library_directory")
	}
	if env.IsSet("server.port") {
		c.Server.Port = env.GetInt("server.port")
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var validBackends = []string{"auto", "pulse", "pulseaudio", "parec", "pipewire", "pw-record", "alsa", "arecord"}

// Validate checks a resolved configuration
func Validate(c *Config) error {
	if err := c.Audio.Format().Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", c.Audio.SampleRate)
	}
	if !isValidBackend(c.Audio.Backend) {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", strings.Join(validBackends, ", "), c.Audio.Backend)
	}
	if c.Audio.BufferMs < 5 || c.Audio.BufferMs > 1000 {
		return fmt.Errorf("audio.buffer_ms must be between 5 and 1000, got: %d", c.Audio.BufferMs)
	}
	if c.Record.JoinTimeoutMs <= 0 {
		return fmt.Errorf("record.join_timeout_ms must be > 0, got: %d", c.Record.JoinTimeoutMs)
	}
	if c.Playback.DuckVolume <= 0 || c.Playback.DuckVolume > 1 {
		return fmt.Errorf("playback.duck_volume must be in (0, 1], got: %.2f", c.Playback.DuckVolume)
	}
	if c.Playback.Channels < 1 || c.Playback.Channels > 2 {
		return fmt.Errorf("playback.channels must be 1 or 2, got: %d", c.Playback.Channels)
	}
	if c.Playback.SampleRate < 8000 || c.Playback.SampleRate > 192000 {
		return fmt.Errorf("playback.sample_rate must be between 8000 and 192000, got: %d", c.Playback.SampleRate)
	}
	if c.Playback.OutputBufferMs < 0 {
		return fmt.Errorf("playback.output_buffer_ms must be >= 0, got: %d", c.Playback.OutputBufferMs)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	return nil
}

func isValidBackend(b string) bool {
	for _, v := range validBackends {
		if v == b {
			return true
		}
	}
	return false
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not match any profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// validateProfile rejects values that are wrong even before merging
func validateProfile(p *Config) error {
	if p.Audio.SampleRate < 0 || p.Audio.Channels < 0 || p.Audio.BitDepth < 0 || p.Audio.BufferMs < 0 {
		return fmt.Errorf("audio settings cannot be negative")
	}
	if p.Audio.Backend != "" && !isValidBackend(p.Audio.Backend) {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", strings.Join(validBackends, ", "), p.Audio.Backend)
	}
	if p.Playback.DuckVolume < 0 || p.Playback.DuckVolume > 1 {
		return fmt.Errorf("playback.duck_volume must be in (0, 1], got: %.2f", p.Playback.DuckVolume)
	}
	if p.Record.JoinTimeoutMs < 0 {
		return fmt.Errorf("record.join_timeout_ms must be >= 0, got: %d", p.Record.JoinTimeoutMs)
	}
	return nil
}

// Watch reloads the configuration whenever the file is written and passes
// the result to onChange. It blocks until ctx is done.
func Watch(ctx context.Context, configFile, profile string, onChange func(*Config)) error {
	const (
		minTimeBetweenReloadAttempts = 500 * time.Millisecond
		delayBetweenEventAndReload   = 50 * time.Millisecond
	)

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	slog.Debug("Watching config file for changes", "path", configFile)

	var lastAttemptedReload time.Time
	v.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		now := time.Now()
		// editors often write twice
		if now.Sub(lastAttemptedReload) < minTimeBetweenReloadAttempts {
			return
		}
		lastAttemptedReload = now

		slog.Debug("Config file modified, attempting reload", "event", event.String())
		time.Sleep(delayBetweenEventAndReload)

		cfg, err := LoadWithProfile(configFile, profile)
		if err != nil {
			slog.Warn("Failed to reload config file", "error", err)
			return
		}
		slog.Info("Reloaded config successfully", "profile", cfg.Profile)
		onChange(cfg)
	})
	v.WatchConfig()

	<-ctx.Done()
	slog.Debug("Stopping config file watcher")
	v.OnConfigChange(func(fsnotify.Event) {})
	return nil
}
