package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/airfi/unifi-hotspot-gateway/internal/portal"
	"github.com/airfi/unifi-hotspot-gateway/internal/unifi"
)

func newAuthorizeCommand(opts *options) *cobra.Command {
	var (
		mac      string
		duration int
		data     int64
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Admit one device, as if it had logged in on the splash page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}

			req := portal.Request{ClientMAC: mac}
			if cmd.Flags().Changed("duration") {
				req.Duration = &duration
			}
			if cmd.Flags().Changed("data") {
				req.Data = &data
			}

			out := gw.orchestrator.Handle(cmd.Context(), req)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out.Summary()); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("authorization denied: %s", out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mac, "mac", "", "client MAC address")
	cmd.Flags().IntVar(&duration, "duration", portal.DefaultDuration, "access duration in minutes")
	cmd.Flags().Int64Var(&data, "data", 0, "data quota in bytes (instead of --duration)")
	_ = cmd.MarkFlagRequired("mac")
	cmd.MarkFlagsMutuallyExclusive("duration", "data")

	return cmd
}

func newVouchersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vouchers",
		Short: "Inspect and mint hotspot vouchers on the controller",
	}
	cmd.AddCommand(newVouchersListCommand(opts), newVouchersIssueCommand(opts))
	return cmd
}

func newVouchersListCommand(opts *options) *cobra.Command {
	var (
		note string
		ours bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hotspot vouchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.ControllerTimeout)
			defer cancel()

			session, err := gw.client.Login(ctx)
			if err != nil {
				return err
			}
			vouchers, err := gw.client.ListVouchers(ctx, session)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tMINUTES\tBYTES\tCREATED\tSTATUS\tNOTE")
			for _, v := range vouchers {
				if note != "" && v.Note != note {
					continue
				}
				if ours && !strings.HasPrefix(v.Note, gw.issuer.Tag()+" ") {
					continue
				}
				printVoucher(w, v)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "only show vouchers with this exact note")
	cmd.Flags().BoolVar(&ours, "ours", false, "only show vouchers minted by this gateway")

	return cmd
}

func newVouchersIssueCommand(opts *options) *cobra.Command {
	var (
		duration int
		data     int64
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint one single-use voucher without binding it to a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*cfg.ControllerTimeout)
			defer cancel()

			session, err := gw.client.Login(ctx)
			if err != nil {
				return err
			}

			var voucher *unifi.Voucher
			if cmd.Flags().Changed("data") {
				voucher, err = gw.issuer.IssueDataGrant(ctx, session, data)
			} else {
				voucher, err = gw.issuer.IssueDurationGrant(ctx, session, duration, 0, 0)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tMINUTES\tBYTES\tCREATED\tSTATUS\tNOTE")
			printVoucher(w, *voucher)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&duration, "duration", portal.DefaultDuration, "voucher duration in minutes")
	cmd.Flags().Int64Var(&data, "data", 0, "data quota in bytes (instead of --duration)")
	cmd.MarkFlagsMutuallyExclusive("duration", "data")

	return cmd
}

func printVoucher(w io.Writer, v unifi.Voucher) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
		v.Code, v.Duration, v.UsageQuota,
		time.Unix(v.CreateTime, 0).UTC().Format(time.RFC3339),
		v.Status, v.Note,
	)
}

func newProbeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check outbound internet reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			gw, err := newGateway(cfg, logger)
			if err != nil {
				return err
			}

			if !gw.prober.Check(cmd.Context()) {
				return errors.New("no internet access")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "internet access ok")
			return nil
		},
	}
}
