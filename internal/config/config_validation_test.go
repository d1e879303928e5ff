package config

import (
	"os"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_Valid(t *testing.T) {
	configFile := createTempConfig(t, profilesConfig)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected valid config, got error: %v", err)
	}
	if len(rootConfig.Configs) != 2 {
		t.Errorf("Expected 2 profiles, got %d", len(rootConfig.Configs))
	}
	if rootConfig.Globals == nil || rootConfig.Globals.LibraryDirectory != "/srv/backing" {
		t.Errorf("Expected globals section, got %+v", rootConfig.Globals)
	}
}

func TestValidateConfigurationFormat_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing configs",
			content: "active_config: default\n",
			want:    "configs section is required",
		},
		{
			name: "unknown active config",
			content: `
active_config: live
configs:
  default:
    audio:
      channels: 1
`,
			want: "active_config 'live' does not match any profile",
		},
		{
			name: "bad backend",
			content: `
configs:
  default:
    audio:
      backend: coreaudio
`,
			want: "audio.backend must be one of",
		},
		{
			name: "duck volume out of range",
			content: `
configs:
  default:
    playback:
      duck_volume: 1.5
`,
			want: "playback.duck_volume",
		},
		{
			name: "negative join timeout",
			content: `
configs:
  default:
    record:
      join_timeout_ms: -1
`,
			want: "record.join_timeout_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.content)
			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !containsSubstring(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bit depth", func(c *Config) { c.Audio.BitDepth = 12 }, false},
		{"low sample rate", func(c *Config) { c.Audio.SampleRate = 4000 }, false},
		{"buffer", func(c *Config) { c.Audio.BufferMs = 2 }, false},
		{"duck volume zero", func(c *Config) { c.Playback.DuckVolume = 0 }, false},
		{"output channels", func(c *Config) { c.Playback.Channels = 6 }, false},
		{"port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"join timeout", func(c *Config) { c.Record.JoinTimeoutMs = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "jamdeck-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer tmpfile.Close()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return tmpfile.Name()
}

func containsSubstring(s, substr string) bool {
	return strings.Contains(s, substr)
}
