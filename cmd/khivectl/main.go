package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/khive-ai/khive-gateway/internal/config"
	"github.com/khive-ai/khive-gateway/internal/coordination"
	"github.com/khive-ai/khive-gateway/internal/dispatch"
	"github.com/khive-ai/khive-gateway/internal/ingest"
	"github.com/khive-ai/khive-gateway/internal/logging"
	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
	"github.com/khive-ai/khive-gateway/internal/state"
	"github.com/khive-ai/khive-gateway/internal/transport"
)

// Version is set at build time.
var Version = "dev"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle    = lipgloss.NewStyle().Faint(true)
	healthyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	downStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type cliFlags struct {
	configPath string
	daemonURL  string
	logLevel   string
	timeout    time.Duration
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "khivectl",
		Short:         "Operator CLI for the khive coordination daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a gateway config file")
	root.PersistentFlags().StringVar(&flags.daemonURL, "daemon-url", "", "daemon base URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "timeout for daemon requests")

	root.AddCommand(
		newStatusCommand(flags),
		newSnapshotCommand(flags),
		newWatchCommand(flags),
		newSendCommand(flags),
	)
	return root
}

// setup loads the effective config and routes CLI diagnostics to stderr so
// command output on stdout stays machine-readable.
func setup(flags *cliFlags) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.daemonURL != "" {
		cfg.Daemon.BaseURL = flags.daemonURL
	}

	logger, err := logging.New(logging.Config{Level: flags.logLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logging: %w", err)
	}
	log.SetDefault(logger.Logger)
	return cfg, logger.Logger, nil
}

// buildClient wires the same coordination pipeline the gateway runs, pointed
// at the configured daemon.
func buildClient(cfg *config.Config, logger *log.Logger) (*coordination.Client, error) {
	coordMetrics, err := metrics.NewCoordinationMetrics()
	if err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	mgr, err := transport.NewManager(transport.Options{
		DaemonURL:         cfg.Daemon.BaseURL,
		EventsPath:        cfg.Daemon.EventsPath,
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
		PingInterval:      cfg.Transport.PingInterval,
		PongTimeout:       cfg.Transport.PongTimeout,
		ReconnectInitial:  cfg.Transport.ReconnectInitial,
		ReconnectMax:      cfg.Transport.ReconnectMax,
		DegradedThreshold: cfg.Transport.DegradedThreshold,
		SendBuffer:        cfg.Transport.SendBuffer,
	}, logger.With("component", "transport"), coordMetrics)
	if err != nil {
		return nil, fmt.Errorf("initialize transport: %w", err)
	}

	daemonClient := coordination.NewDaemonClient(cfg.Daemon.BaseURL, cfg.Daemon.RequestTimeout,
		logger.With("component", "daemon-client"))
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		CommandTimeout: cfg.Dispatch.CommandTimeout,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		RetryBackoff:   cfg.Dispatch.RetryBackoff,
	}, mgr, daemonClient, logger.With("component", "dispatch"), coordMetrics)
	ingestor := ingest.New(cfg.Ingest.DedupWindow, logger.With("component", "ingest"), coordMetrics)
	store := state.New(logger.With("component", "state"), coordMetrics)

	return coordination.NewClient(store, mgr, dispatcher, ingestor, daemonClient,
		logger.With("component", "coordination"), coordMetrics), nil
}

func newStatusCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and coordination counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			daemon := coordination.NewDaemonClient(cfg.Daemon.BaseURL, cfg.Daemon.RequestTimeout, logger)

			fmt.Println(titleStyle.Render("khive daemon"))
			fmt.Printf("  %s %s\n", labelStyle.Render("endpoint"), cfg.Daemon.BaseURL)

			if !daemon.IsHealthy(ctx) {
				fmt.Printf("  %s %s\n", labelStyle.Render("health"), downStyle.Render("unreachable"))
				return fmt.Errorf("daemon at %s is not answering health checks", cfg.Daemon.BaseURL)
			}
			fmt.Printf("  %s %s\n", labelStyle.Render("health"), healthyStyle.Render("healthy"))

			snap, err := daemon.FetchSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("fetch state: %w", err)
			}

			sessions, agents, tasks := snap.Counts()
			fmt.Printf("  %s %d sessions, %d agents, %d tasks\n", labelStyle.Render("state"), sessions, agents, tasks)
			if snap.Daemon.Version != "" {
				fmt.Printf("  %s %s\n", labelStyle.Render("version"), snap.Daemon.Version)
			}
			if snap.Daemon.Uptime > 0 {
				fmt.Printf("  %s %s\n", labelStyle.Render("uptime"), snap.Daemon.Uptime)
			}
			return nil
		},
	}
}

func newSnapshotCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the daemon's full coordination state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			daemon := coordination.NewDaemonClient(cfg.Daemon.BaseURL, cfg.Daemon.RequestTimeout, logger)
			snap, err := daemon.FetchSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("fetch state: %w", err)
			}

			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newWatchCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream state changes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := buildClient(cfg, logger)
			if err != nil {
				return err
			}
			client.Start(ctx)
			defer client.Stop()

			unsubscribe := client.OnChange(func(snap models.StateSnapshot) {
				sessions, agents, tasks := snap.Counts()
				fmt.Printf("%s seq=%d sessions=%d agents=%d tasks=%d daemon=%s\n",
					labelStyle.Render(time.Now().Format("15:04:05")),
					snap.Seq, sessions, agents, tasks, renderDaemonHealth(snap.Daemon.Health))
			})
			defer unsubscribe()

			fmt.Println(titleStyle.Render("watching khive state") + labelStyle.Render("  (ctrl-c to stop)"))
			<-ctx.Done()
			return nil
		},
	}
}

func newSendCommand(flags *cliFlags) *cobra.Command {
	var priority string

	cmd := &cobra.Command{
		Use:   "send <command> [args...]",
		Short: "Dispatch one command to the daemon and wait for its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := models.Priority(priority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %q (low, normal, high, critical)", priority)
			}

			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			client, err := buildClient(cfg, logger)
			if err != nil {
				return err
			}
			client.Start(cmd.Context())
			defer client.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			res, err := client.SendCommand(ctx, args[0], args[1:], p)
			if err != nil {
				var rejected *dispatch.RejectedError
				if errors.As(err, &rejected) {
					fmt.Printf("%s %s\n", downStyle.Render("rejected"), rejected.Reason)
					return fmt.Errorf("daemon rejected %s", args[0])
				}
				return err
			}

			fmt.Printf("%s %s\n", healthyStyle.Render("ok"), labelStyle.Render("correlation="+res.CorrelationID))
			if len(res.Result) > 0 {
				out, err := json.MarshalIndent(json.RawMessage(res.Result), "", "  ")
				if err == nil {
					fmt.Println(string(out))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", string(models.PriorityNormal), "command priority (low, normal, high, critical)")
	return cmd
}

func renderDaemonHealth(health string) string {
	switch health {
	case "healthy":
		return healthyStyle.Render(health)
	case "degraded":
		return degradedStyle.Render(health)
	case "":
		return labelStyle.Render("unknown")
	default:
		return downStyle.Render(health)
	}
}
