package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"faststart/internal/config"
	"faststart/internal/ipc"
)

func newFileCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAddCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newScanCommand(ctx),
		newOptimizeCommand(ctx),
		newClearCommand(ctx),
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Track video files; folders are searched recursively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absolutePaths(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AddPaths(paths)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Added) == 0 {
					fmt.Fprintln(out, "No new video files found")
					return nil
				}
				for _, entry := range resp.Added {
					fmt.Fprintf(out, "Added %s\n", entry.Key)
				}
				fmt.Fprintf(out, "%d file(s) queued for scanning\n", len(resp.Added))
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked files in admission order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No files tracked")
					return nil
				}
				renderEntries(out, resp.Items, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show files with these statuses (comma separated)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderEntries(out io.Writer, items []ipc.FileEntry, colorize bool) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		status := item.StatusLabel
		if item.Status == "optimizing" && item.Progress > 0 {
			status = fmt.Sprintf("%s %.0f%%", status, item.Progress)
		}
		size, runtime, resolution := "-", "-", "-"
		if item.Metadata != nil {
			size = formatBytes(item.Metadata.SizeBytes)
			runtime = formatRuntime(item.Metadata.DurationSeconds)
			resolution = formatResolution(item.Metadata.Width, item.Metadata.Height)
		} else if item.Size > 0 {
			size = formatBytes(item.Size)
		}
		rows = append(rows, []string{
			item.DisplayName,
			colorizeText(status, entryStatusKind(item.Status), colorize),
			size,
			runtime,
			resolution,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"File", "Status", "Size", "Duration", "Resolution"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(out)
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Show details for one tracked file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absolutePath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Get(path)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Item)
				}
				out := cmd.OutOrStdout()
				renderEntryDetail(out, resp.Item, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderEntryDetail(out io.Writer, item ipc.FileEntry, colorize bool) {
	fmt.Fprintln(out, renderStatusLine("File", statusInfo, item.Key, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", entryStatusKind(item.Status), item.StatusLabel, colorize))
	if item.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Message", entryStatusKind(item.Status), item.Message, colorize))
	}
	if item.Status == "optimizing" {
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.0f%%", item.Progress), colorize))
	}
	if meta := item.Metadata; meta != nil {
		fmt.Fprintln(out, renderStatusLine("Size", statusInfo, formatBytes(meta.SizeBytes), colorize))
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatRuntime(meta.DurationSeconds), colorize))
		fmt.Fprintln(out, renderStatusLine("Resolution", statusInfo, formatResolution(meta.Width, meta.Height), colorize))
		if meta.Codec != "" {
			fmt.Fprintln(out, renderStatusLine("Codec", statusInfo, meta.Codec, colorize))
		}
	}
	fmt.Fprintln(out, renderStatusLine("Added", statusInfo, item.AddedAt, colorize))
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <path>",
		Short: "Re-analyze a tracked file and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absolutePath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan(path)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				renderEntryDetail(out, resp.Item, shouldColorize(out))
				return nil
			})
		},
	}
}

func newOptimizeCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var noWait bool
	cmd := &cobra.Command{
		Use:   "optimize [path]",
		Short: "Move the movie header of one file, or of every unoptimized file with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass either a path or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("a path is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.OptimizeAll(!noWait)
					if err != nil {
						return err
					}
					if noWait {
						fmt.Fprintf(out, "%d file(s) queued for optimization\n", resp.Queued)
						return nil
					}
					fmt.Fprintf(out, "Optimized %d, failed %d, skipped %d in %s\n",
						resp.Optimized, resp.Failed, resp.Skipped, formatDuration(resp.Elapsed))
					if resp.Failed > 0 {
						return fmt.Errorf("%d file(s) failed; see `faststart list --status error`", resp.Failed)
					}
					return nil
				})
			}

			path, err := absolutePath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				started := time.Now()
				resp, err := client.Optimize(path)
				if err != nil {
					return err
				}
				if resp.Error != "" {
					return fmt.Errorf("optimize %s: %s", resp.Item.DisplayName, resp.Error)
				}
				fmt.Fprintf(out, "%s: %s (%s)\n", resp.Item.DisplayName, resp.Item.StatusLabel,
					formatDuration(time.Since(started)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Optimize every unoptimized file")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "With --all, return once the batch is queued")
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var cache bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every tracked file",
		Long: "Forget every tracked file. Scans and optimizations still running finish " +
			"on disk but no longer update the list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Clear(cache)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d file(s)\n", resp.Removed)
				if cache {
					fmt.Fprintf(out, "Removed %d probe cache record(s)\n", resp.CacheRemoved)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cache, "cache", false, "Also empty the probe cache")
	return cmd
}

func absolutePaths(args []string) ([]string, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := absolutePath(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// absolutePath resolves ~ and relative paths against the caller's working
// directory; the daemon runs elsewhere.
func absolutePath(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("path is required")
	}
	return config.ExpandPath(arg)
}
