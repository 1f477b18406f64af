package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	Environment string
}

// RemoteFlags point a command at a running daemon instead of the local registry.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type ConductFlags struct {
	Daemon        bool
	Interval      time.Duration
	Listen        string
	MetricsListen string
	Detach        bool
	PIDFile       string
	LogFile       string
	RemoteFlags
}

type PauseFlags struct {
	Wait bool
	RemoteFlags
}

type StatusFlags struct {
	Health bool
	JSON   bool
	RemoteFlags
}

type OutputFlags struct {
	JSON bool
	RemoteFlags
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createConductCommand(c),
		createPauseCommand(c),
		createEncoreCommand(c),
		createStatusCommand(c),
		createInstrumentsCommand(c),
		createHealthCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestral",
		Short: "Supervise long-running worker processes",
		Long: `Orchestral starts, stops and watches the performances declared in its
config file. Each invocation is short lived; state is kept in the registry
so the next invocation picks up where the last one stopped.

Examples:
  orchestral conduct                    # start every performance
  orchestral conduct emails --daemon    # start and keep watching
  orchestral pause emails --wait
  orchestral status --json
  orchestral status --api-url=http://127.0.0.1:8080/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.Environment, "env", "", "environment whose performances are used (overrides config)")
	return root
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 2*time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

func performanceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func createConductCommand(c *command) *cobra.Command {
	f := &ConductFlags{}
	cmd := &cobra.Command{
		Use:   "conduct [performance]",
		Short: "Start performers",
		Long: `Start every performer of the named performance, or of all performances
when no name is given. Performers already alive are left alone.

With --daemon the command keeps running, checking performers every
--interval and restarting the ones that died or outgrew their memory limit.

Examples:
  orchestral conduct
  orchestral conduct emails
  orchestral conduct --daemon --listen=127.0.0.1:8080 --metrics-listen=:9090
  orchestral conduct --daemon --detach --pidfile=/run/orchestral.pid --logfile=/var/log/orchestral.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Conduct(cmd.Context(), cmd.OutOrStdout(), performanceArg(args), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Daemon, "daemon", false, "keep running and monitor performers")
	cmd.Flags().DurationVar(&f.Interval, "interval", 0, "monitor interval (default from config)")
	cmd.Flags().StringVar(&f.Listen, "listen", "", "HTTP API listen address in daemon mode")
	cmd.Flags().StringVar(&f.MetricsListen, "metrics-listen", "", "Prometheus metrics listen address in daemon mode")
	cmd.Flags().BoolVar(&f.Detach, "detach", false, "run the daemon in the background")
	cmd.Flags().StringVar(&f.PIDFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "write daemon logs to this rotating file")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createPauseCommand(c *command) *cobra.Command {
	f := &PauseFlags{}
	cmd := &cobra.Command{
		Use:   "pause [performance]",
		Short: "Stop performers",
		Long: `Send SIGTERM to the performers of the named performance, or to all of
them when no name is given. With --wait, performers that do not exit within
graceful_shutdown_timeout are killed.

Examples:
  orchestral pause
  orchestral pause emails --wait`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Pause(cmd.Context(), cmd.OutOrStdout(), performanceArg(args), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Wait, "wait", false, "wait for performers to exit, killing stragglers")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createEncoreCommand(c *command) *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "encore [performance]",
		Short: "Restart performers",
		Long: `Pause, wait two seconds and conduct again.

Examples:
  orchestral encore
  orchestral encore emails`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Encore(cmd.Context(), cmd.OutOrStdout(), performanceArg(args), *f)
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live performers",
		Long: `Show every live performer with its PID, uptime, memory and CPU.

Examples:
  orchestral status
  orchestral status --json
  orchestral status --health --api-url=http://127.0.0.1:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.Health, "health", false, "include health verdicts")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createInstrumentsCommand(c *command) *cobra.Command {
	f := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Show configured performances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Instruments(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}

func createHealthCommand(c *command) *cobra.Command {
	f := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show performer health",
		Long: `Show the health of performers started by this process. Outside daemon
mode that set is empty; use --api-url to ask a running daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	addRemoteFlags(cmd, &f.RemoteFlags)
	return cmd
}
