package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync-go/pkg/discovery"
)

func newAnnounceCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "announce <instance>",
		Short: "Announce a daemon URL over mDNS",
		Long: fmt.Sprintf(`Announce the daemon given by --url as a %s service so that clients
started with --discover can find it. Useful for daemons without mDNS
support. Runs until interrupted.`, discovery.ServiceTypeDaemon),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Server.URL == "" {
				return fmt.Errorf("announce needs --url")
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())

			info, err := discovery.DaemonInfoFromURL(args[0], cfg.Server.URL, cfg.Codec)
			if err != nil {
				return err
			}

			adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
				Interface: cfg.Discovery.Interface,
				TTL:       discovery.DefaultAdvertiserConfig().TTL,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := adv.Advertise(ctx, info); err != nil {
				return err
			}
			logger.Info("announcing daemon", "instance", info.InstanceName, "port", info.Port, "path", info.Path, "codec", info.Codec)

			<-ctx.Done()
			return adv.Stop()
		},
	}
	return cmd
}
