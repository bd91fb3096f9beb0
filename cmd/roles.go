package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDispatchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Append one work entry per registered site every interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := a.Dispatcher(cmd.Context())
			if err != nil {
				return fmt.Errorf("init dispatcher: %w", err)
			}
			if once {
				n, err := d.RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("dispatch: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d entries\n", n)
				return nil
			}
			ops := a.ServeOps(cmd.Context(), nil)
			d.Run(cmd.Context())
			<-ops
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single dispatch cycle and exit")
	return cmd
}

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Probe sites for one region (requires REGION_ID and WORKER_ID)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := a.Workers(cmd.Context())
			if err != nil {
				return fmt.Errorf("init workers: %w", err)
			}
			a.Logger().Info("starting worker pool", zap.Int("instances", pool.Size()))
			ops := a.ServeOps(cmd.Context(), nil)
			pool.Run(cmd.Context())
			<-ops
			return nil
		},
	}
}

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Persist queued outcomes to the permanent store in batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.Consumer(cmd.Context())
			if err != nil {
				return fmt.Errorf("init consumer: %w", err)
			}
			ops := a.ServeOps(cmd.Context(), c)
			c.Run(cmd.Context())
			<-ops
			return nil
		},
	}
}

func newProvisionCmd() *cobra.Command {
	var regions []string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a consumer group per region on the work log",
		Long: `provision creates one consumer group per region. Regions come from the
regions table when a database is configured, plus any --region flags.
Existing groups keep their position.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := a.Provisioner(cmd.Context())
			if err != nil {
				return fmt.Errorf("init provisioner: %w", err)
			}
			done, err := p.Run(cmd.Context(), regions...)
			for _, region := range done {
				fmt.Fprintf(cmd.OutOrStdout(), "consumer group ready: %s\n", region)
			}
			if err != nil {
				return fmt.Errorf("provision: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&regions, "region", nil, "region id to provision (repeatable)")
	return cmd
}
