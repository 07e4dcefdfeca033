package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"faststart/internal/config"
	"faststart/internal/deps"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check and print the faststart configuration",
	}
	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample configuration file",
		Long:        "Write the sample configuration to --path, the global --config path, or ~/.config/faststart/config.toml.",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath, ctx.configPath())
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set bridge.drop_dir or bridge.host_url to receive dropped files, then run `faststart start`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

func initTarget(flagPath, globalPath string) (string, error) {
	for _, candidate := range []string{flagPath, globalPath} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			expanded, err := config.ExpandPath(candidate)
			if err != nil {
				return "", fmt.Errorf("resolve config path: %w", err)
			}
			return expanded, nil
		}
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return path, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Check the configuration file and report what it enables",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "Config path: %s\n", path)
			} else {
				fmt.Fprintf(out, "Config path: %s (not found, using defaults)\n", path)
			}
			describeConfig(out, cfg, deps.CheckFFprobe(cmd.Context(), cfg.Analyzer.FFprobeBinary))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// describeConfig summarizes the settings that change daemon behavior.
func describeConfig(out io.Writer, cfg *config.Config, ffprobe deps.Status) {
	var bridges []string
	if cfg.Bridge.HostURL != "" {
		bridges = append(bridges, "host "+cfg.Bridge.HostURL)
	}
	if cfg.Bridge.DropDir != "" {
		bridges = append(bridges, "drop folder "+cfg.Bridge.DropDir)
	}
	if cfg.Bridge.RemovableMedia {
		bridges = append(bridges, "removable media")
	}
	if len(bridges) == 0 {
		bridges = append(bridges, "none")
	}
	fmt.Fprintf(out, "Bridges: %s\n", strings.Join(bridges, ", "))

	limit := "unlimited"
	if cfg.Optimize.MaxConcurrent > 0 {
		limit = fmt.Sprintf("%d", cfg.Optimize.MaxConcurrent)
	}
	fmt.Fprintf(out, "Concurrent optimizations: %s\n", limit)
	fmt.Fprintf(out, "Notifications: %s\n", yesNo(cfg.Notifications.NtfyTopic != ""))

	if ffprobe.Available {
		fmt.Fprintf(out, "FFprobe: %s\n", ffprobe.Detail)
	} else {
		fmt.Fprintf(out, "FFprobe: %s (metadata read from the movie header)\n", ffprobe.Detail)
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Paths.APIToken != "" {
				shown.Paths.APIToken = "<redacted>"
			}
			data, err := toml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
