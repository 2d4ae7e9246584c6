package args

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markis/firehose/internal/config"
)

const (
	samplePath = "statuses/sample"
	filterPath = "statuses/filter"
)

// ErrHelpShown is returned when the invocation only printed help.
var ErrHelpShown = errors.New("help shown")

// Arguments represents the command-line arguments structure.
type Arguments struct {
	Path    string
	Params  url.Values
	Preset  string
	Format  string
	Debug   bool
	Metrics string
	// Replay reads a captured stream from stdin instead of connecting.
	Replay bool
}

// ParseArgs parses argv (without the program name) against cfg.
// Flags override the config file; each configured stream preset becomes a subcommand.
func ParseArgs(ctx context.Context, cfg config.Config, argv []string) (Arguments, error) {
	args := Arguments{}

	var (
		track, follow, locations string
		extra                    map[string]string
		plain, asJSON            bool
		presetParams             map[string]string
		ran                      bool
	)

	rootCmd := &cobra.Command{
		Use:   "firehose [flags] [path]",
		Short: "Follow a streaming JSON firehose from the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			ran = true
			if len(cmdArgs) > 0 {
				args.Path = cmdArgs[0]
			}
			return nil
		},
		SilenceErrors: true, // We'll handle error reporting
		SilenceUsage:  true, // We'll handle usage display
	}
	rootCmd.SetArgs(argv)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&track, "track", "", "Comma-separated keywords to track")
	flags.StringVar(&follow, "follow", "", "Comma-separated user ids to follow")
	flags.StringVar(&locations, "locations", "", "Comma-separated bounding boxes")
	flags.StringToStringVar(&extra, "param", nil, "Extra query parameter as key=value (repeatable)")
	flags.BoolVar(&plain, "plain", shouldUsePlainText(cfg), "Disable markdown rendering")
	flags.BoolVar(&asJSON, "json", cfg.Render.Format == config.FormatJSON, "Print each message as a JSON line")
	flags.BoolVar(&args.Debug, "debug", cfg.Log.Debug, "Enable debug logging")
	flags.StringVar(&args.Metrics, "metrics", cfg.Metrics.Listen, "Address to serve Prometheus metrics on")
	flags.BoolVar(&args.Replay, "replay", false, "Parse a captured stream from stdin instead of connecting")

	// Add configured presets in a stable order
	names := make([]string, 0, len(cfg.Streams))
	for name := range cfg.Streams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		name := name // per-iteration copy for pre-1.22 loop semantics
		preset := cfg.Streams[name]
		short := preset.Description
		if short == "" {
			short = summarize(preset.Path)
		}
		rootCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				ran = true
				args.Preset = name
				args.Path = preset.Path
				presetParams = preset.Params
				return nil
			},
		})
	}

	// Execute the command
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return Arguments{}, err
	}
	if !ran {
		return Arguments{}, ErrHelpShown
	}

	args.Params = url.Values{}
	for k, v := range presetParams {
		args.Params.Set(k, v)
	}
	for k, v := range map[string]string{"track": track, "follow": follow, "locations": locations} {
		if v != "" {
			args.Params.Set(k, v)
		}
	}
	for k, v := range extra {
		args.Params.Set(k, v)
	}

	if args.Path == "" {
		args.Path = samplePath
		if args.Params.Has("track") || args.Params.Has("follow") || args.Params.Has("locations") {
			args.Path = filterPath
		}
	}

	switch {
	case asJSON:
		args.Format = config.FormatJSON
	case plain:
		args.Format = config.FormatPlain
	default:
		args.Format = config.FormatMarkdown
	}

	return args, nil
}

// shouldUsePlainText determines if plain text output should be used based on environment and terminal settings.
func shouldUsePlainText(cfg config.Config) bool {
	// Check if the rendering format is set to plain
	if cfg.Render.Format == config.FormatPlain {
		return true
	}

	// Check if output is being redirected
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return true
		}
	}

	// Check for NO_COLOR environment variable
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}

	// Check for TERM=dumb
	if term := os.Getenv("TERM"); term == "dumb" {
		return true
	}

	return false
}

func summarize(path string) string {
	summary := fmt.Sprintf("Stream %s", strings.TrimSpace(path))
	if len(summary) > 60 {
		summary = summary[:57] + "..."
	}
	return summary
}
