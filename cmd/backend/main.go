// Package main provides the entry point for the UniFi hotspot gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airfi/unifi-hotspot-gateway/internal/config"
	"github.com/airfi/unifi-hotspot-gateway/internal/portal"
	"github.com/airfi/unifi-hotspot-gateway/internal/probe"
	"github.com/airfi/unifi-hotspot-gateway/internal/unifi"
)

type options struct {
	configPath string
	dev        bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "backend",
		Short:         "Captive-portal gateway that admits guests through a UniFi controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config/config.yaml if present)")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "human-readable development logging")

	root.AddCommand(
		newServeCommand(opts),
		newAuthorizeCommand(opts),
		newVouchersCommand(opts),
		newProbeCommand(opts),
	)

	return root
}

// setup loads configuration and builds a logger for a subcommand.
func (o *options) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if o.dev || cfg.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, logger, nil
}

// gateway is the wired authorization core.
type gateway struct {
	client       *unifi.Client
	issuer       *unifi.GrantIssuer
	prober       *probe.Prober
	orchestrator *portal.Orchestrator
}

func newGateway(cfg *config.Config, logger *zap.Logger) (*gateway, error) {
	client, err := unifi.NewClient(cfg.Controller(), logger.Named("unifi"))
	if err != nil {
		return nil, fmt.Errorf("failed to create controller client: %w", err)
	}

	issuer := unifi.NewGrantIssuer(client, cfg.VoucherNote, logger.Named("vouchers"))
	authorizer := unifi.NewClientAuthorizer(client, issuer, logger.Named("authorizer"))
	prober := probe.New(cfg.ProbeURL, cfg.ProbeTimeout, logger.Named("probe"))

	return &gateway{
		client:       client,
		issuer:       issuer,
		prober:       prober,
		orchestrator: portal.NewOrchestrator(authorizer, prober, cfg.AuthorizeTimeout, logger.Named("portal")),
	}, nil
}
