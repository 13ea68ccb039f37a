package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/warden"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires up all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	clientFlags := &ClientFlags{}
	logFlags := &LogFlags{}
	serveFlags := &ServeFlags{}

	wardenCommand := command{out: os.Stdout}

	root := createRootCommand(globalFlags)

	// Add subcommands
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(wardenCommand, clientFlags),
		createStopCommand(wardenCommand, clientFlags),
		createStatusCommand(wardenCommand, clientFlags),
		createRunningCommand(wardenCommand, clientFlags),
		createLogCommand(wardenCommand, logFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Supervisor and control plane for a single automation worker",
		Long: `Warden runs a small control plane around one long-running worker
process. The daemon launches and supervises the worker, tails its log,
tracks per-account outcome records and serves everything over HTTP.

Examples:
  warden serve --config=warden.toml          # Run the daemon
  warden start                               # Launch the worker
  warden status --api-url=http://remote:8000 # Remote status`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (serve only)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the warden daemon",
		Long: `Run the warden daemon. All configuration is loaded from a TOML file.

Examples:
  warden serve --config=warden.toml
  warden serve warden.toml                          # Config as argument
  warden serve --config=warden.toml --daemon --pid-file=/run/warden.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(globalFlags, serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemon, "daemon", false, "run in the background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pid-file", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "log-file", "", "redirect daemon output to this file")

	return cmd
}

func runServeCommand(globalFlags *GlobalFlags, flags *ServeFlags, args []string) error {
	configPath := globalFlags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve. Use --config=warden.toml or pass it as an argument")
	}

	// Load and validate before forking so config mistakes surface in the
	// foreground.
	cfg, err := warden.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemon {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	slog.SetDefault(cfg.Log.NewSlogger())

	if cfg.Metrics.Enabled {
		if err := warden.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if err := warden.RegisterUsageMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register usage metrics: %v\n", err)
		}
	}

	w, err := warden.New(*cfg)
	if err != nil {
		return err
	}

	server, err := warden.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, w)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting warden %s on %s%s (worker: %s)\n",
		warden.Version, cfg.Server.Listen, cfg.Server.BasePath, cfg.Worker.Command)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	_ = server.Close()
	if running, _ := w.IsRunning(); running {
		if err := w.Stop(); err != nil {
			fmt.Printf("Warning: failed to stop worker: %v\n", err)
		}
	}
	if flags.PidFile != "" {
		_ = removePidFile(flags.PidFile)
	}
	return w.Close()
}

// createStartCommand creates the start subcommand
func createStartCommand(wardenCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the worker",
		Long: `Ask a running warden daemon to launch its worker process.
Fails if the worker is already running.

Examples:
  warden start
  warden start --api-url=http://remote:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*clientFlags)
		},
	}
	addClientFlags(cmd, clientFlags)
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(wardenCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate the worker",
		Long: `Ask a running warden daemon to terminate its worker process and
wait for it to exit. Fails if the worker is not running.

Examples:
  warden stop
  warden stop --api-url=http://remote:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(*clientFlags)
		},
	}
	addClientFlags(cmd, clientFlags)
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(wardenCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show outcome counts and worker state",
		Long: `Show the full daemon report: success and failure counts, the most
recent outcome records and the worker process block.

Examples:
  warden status
  warden status --api-url=http://remote:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(*clientFlags)
		},
	}
	addClientFlags(cmd, clientFlags)
	return cmd
}

// createRunningCommand creates the running subcommand
func createRunningCommand(wardenCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "running",
		Short: "Show whether the worker is running",
		Long: `Show the short liveness view of the worker: running flag, state
and PID.

Examples:
  warden running
  warden running --api-url=http://remote:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Running(*clientFlags)
		},
	}
	addClientFlags(cmd, clientFlags)
	return cmd
}

// createLogCommand creates the log subcommand
func createLogCommand(wardenCommand command, logFlags *LogFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the tail of the worker log",
		Long: `Show the last lines of the worker log file.

Examples:
  warden log
  warden log --lines=100
  warden log --api-url=http://remote:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Log(*logFlags)
		},
	}
	cmd.Flags().IntVar(&logFlags.Lines, "lines", 0, "number of lines to return (daemon default when 0)")
	cmd.Flags().StringVar(&logFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8000)")
	cmd.Flags().DurationVar(&logFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// addClientFlags attaches the daemon connection flags shared by the
// client-mode verbs.
func addClientFlags(cmd *cobra.Command, flags *ClientFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8000)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
