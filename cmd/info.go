package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/container"
	"github.com/audiolibrelab/jamdeck/internal/library"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [song-name | file.wav]",
	Short: "Show a take's header and the resolved configuration",
	Long: `Display the file paths and WAV header for the given song name or WAV file,
followed by the resolved configuration with inheritance indicators. Shows
which values are inherited from default vs profile-specific.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := args[0]

		rawPath, wavPath := library.TakePaths(cfg.Record.Directory, arg)
		if strings.HasSuffix(strings.ToLower(arg), ".wav") {
			if _, err := os.Stat(arg); err == nil {
				rawPath, wavPath = "", arg
			}
		}

		fmt.Printf("=== FILE PATHS ===\n")
		if rawPath != "" {
			fmt.Printf("raw: %s %s\n", rawPath, existsIndicator(rawPath))
		}
		fmt.Printf("wav: %s %s\n", wavPath, existsIndicator(wavPath))

		if header, err := container.ReadHeaderFile(wavPath); err == nil {
			printHeader(header)
		} else if !os.IsNotExist(err) {
			fmt.Printf("\nheader: %v\n", err)
		}

		printResolvedConfig()
		return nil
	},
}

func printHeader(h container.Header) {
	format := h.PCMFormat()
	fmt.Printf("\n=== WAV HEADER ===\n")
	fmt.Printf("format: %s\n", format)
	fmt.Printf("audio_format: %d\n", h.AudioFormat)
	fmt.Printf("byte_rate: %d\n", h.ByteRate)
	fmt.Printf("block_align: %d\n", h.BlockAlign)
	fmt.Printf("data_bytes: %d (%s)\n", h.Subchunk2Size, library.FormatBytes(int64(h.Subchunk2Size)))
	if rate := format.ByteRate(); rate > 0 {
		d := time.Duration(int64(h.Subchunk2Size) * int64(time.Second) / int64(rate))
		fmt.Printf("duration: %s\n", d.Round(time.Millisecond))
	}
	if err := h.Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func printResolvedConfig() {
	in := func(field string) string {
		return getInheritanceIndicator(cfg.Inheritance.Source(field))
	}

	fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)

	fmt.Printf("\n[Audio]\n")
	fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, in("audio.sample_rate"))
	fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, in("audio.channels"))
	fmt.Printf("bit_depth: %d %s\n", cfg.Audio.BitDepth, in("audio.bit_depth"))
	fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, in("audio.backend"))
	fmt.Printf("device: %s %s\n", cfg.Audio.Device, in("audio.device"))
	fmt.Printf("buffer_ms: %d %s\n", cfg.Audio.BufferMs, in("audio.buffer_ms"))

	fmt.Printf("\n[Record]\n")
	fmt.Printf("directory: %s %s\n", cfg.Record.Directory, in("record.directory"))
	fmt.Printf("auto_encode: %t %s\n", cfg.Record.ShouldAutoEncode(), in("record.auto_encode"))
	fmt.Printf("keep_raw: %t %s\n", cfg.Record.ShouldKeepRaw(), in("record.keep_raw"))
	fmt.Printf("join_timeout_ms: %d %s\n", cfg.Record.JoinTimeoutMs, in("record.join_timeout_ms"))

	fmt.Printf("\n[Playback]\n")
	fmt.Printf("library_directory: %s %s\n", cfg.Playback.LibraryDirectory, in("playback.library_directory"))
	fmt.Printf("extensions: %s %s\n", strings.Join(cfg.Playback.Extensions, ", "), in("playback.extensions"))
	fmt.Printf("duck_volume: %.2f %s\n", cfg.Playback.DuckVolume, in("playback.duck_volume"))
	fmt.Printf("output: %d Hz, %d ch %s\n", cfg.Playback.SampleRate, cfg.Playback.Channels, in("playback.sample_rate"))

	fmt.Printf("\n[Server]\n")
	fmt.Printf("port: %d %s\n", cfg.Server.Port, in("server.port"))
	fmt.Printf("advertise: %t %s\n", cfg.Server.ShouldAdvertise(), in("server.advertise"))
	fmt.Printf("watch_devices: %t %s\n", cfg.Server.ShouldWatchDevices(), in("server.watch_devices"))
}

func existsIndicator(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "[exists]"
	}
	return "[missing]"
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
