package main

import (
	"github.com/spf13/cobra"

	"faststart/internal/daemon"
)

const (
	groupDaemon = "daemon"
	groupFiles  = "files"
	groupSetup  = "setup"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string

	ctx := newCommandContext(&socketFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:   "faststart",
		Short: "Move MP4 movie headers to the front for instant playback",
		Long: "faststart watches for dropped MP4 files, reports which ones need their movie\n" +
			"header moved to the front, and rewrites them on request.",
		Version:       daemon.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the faststart daemon socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: groupFiles, Title: "Files:"},
		&cobra.Group{ID: groupSetup, Title: "Setup and diagnostics:"},
	)
	addGrouped(rootCmd, groupDaemon, newDaemonCommands(ctx)...)
	addGrouped(rootCmd, groupDaemon, newDaemonRunCommand(ctx), newLogsCommand(ctx))
	addGrouped(rootCmd, groupFiles, newFileCommands(ctx)...)
	addGrouped(rootCmd, groupFiles, newCheckCommand(ctx))
	addGrouped(rootCmd, groupSetup, newConfigCommand(ctx), newTestNotifyCommand(ctx))

	return rootCmd
}

func addGrouped(parent *cobra.Command, group string, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.GroupID = group
		parent.AddCommand(cmd)
	}
}
