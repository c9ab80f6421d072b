// Package commands implements the nodesync CLI.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/client"
	"github.com/nodesync/nodesync-go/pkg/config"
	"github.com/nodesync/nodesync-go/pkg/discovery"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath  string
	url         string
	codec       string
	logLevel    string
	logFormat   string
	stateDir    string
	protocolLog string
	metricsAddr string
	mqttBroker  string
	discover    bool
	instance    string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&globalOptions{})
}

func newRootCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "nodesync",
		Short: "Real-time node state sync client",
		Long: `nodesync keeps a websocket connection to a node daemon, mirrors its
node collection locally and sends edits back.

Examples:
  # Follow every change of the collection
  nodesync watch --url ws://hub.local:8080/ws

  # Find the daemon over mDNS and open the interactive shell
  nodesync shell --discover

  # Inspect a protocol capture
  nodesync log view --layer wire capture.nlog`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.url, "url", "", "Daemon websocket URL (ws:// or wss://)")
	flags.StringVar(&opts.codec, "codec", "", "Envelope codec: json, cbor, msgpack")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory for the snapshot cache")
	flags.StringVar(&opts.protocolLog, "protocol-log", "", "Write a protocol capture to this file")
	flags.StringVar(&opts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&opts.mqttBroker, "mqtt", "", "Mirror snapshots to this MQTT broker")
	flags.BoolVar(&opts.discover, "discover", false, "Find the daemon over mDNS")
	flags.StringVar(&opts.instance, "instance", "", "Daemon instance name to look for with --discover")

	root.AddCommand(
		newWatchCommand(opts),
		newNodesCommand(opts),
		newShellCommand(opts),
		newCacheCommand(opts),
		newAnnounceCommand(opts),
		newLogCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}

// loadConfig reads the configuration file (if any) and applies the flags
// the user set explicitly.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Server.URL = o.url
	}
	if flags.Changed("codec") {
		cfg.Codec = o.codec
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = o.stateDir
	}
	if flags.Changed("protocol-log") {
		cfg.Log.ProtocolFile = o.protocolLog
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = o.metricsAddr != ""
		cfg.Metrics.Addr = o.metricsAddr
	}
	if flags.Changed("mqtt") {
		cfg.MQTT.Enabled = o.mqttBroker != ""
		cfg.MQTT.Broker = o.mqttBroker
	}
	if flags.Changed("instance") {
		cfg.Discovery.Instance = o.instance
	}
	if o.discover {
		cfg.Discovery.Enabled = true
		if !flags.Changed("url") {
			cfg.Server.URL = ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient loads the configuration, resolves the daemon over mDNS when
// asked to and builds an unstarted client.
func (o *globalOptions) newClient(ctx context.Context, cmd *cobra.Command, tweak func(*config.Config, *client.Options)) (*client.Client, *slog.Logger, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	if err := resolve(ctx, cfg, logger); err != nil {
		return nil, nil, err
	}

	copts := client.Options{Config: cfg, Logger: logger}
	if tweak != nil {
		tweak(cfg, &copts)
	}
	c, err := client.New(copts)
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}

func resolve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Server.URL != "" || !cfg.Discovery.Enabled {
		return nil
	}
	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: cfg.Discovery.Timeout,
		Interface:     cfg.Discovery.Interface,
	})
	if err != nil {
		return err
	}
	defer browser.Stop()

	logger.Info("looking for daemon", "service", discovery.ServiceTypeDaemon, "instance", cfg.Discovery.Instance)
	if err := client.Resolve(ctx, cfg, browser); err != nil {
		return err
	}
	logger.Info("daemon found", "url", cfg.Server.URL, "codec", cfg.Codec)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func closeClient(c *client.Client, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
