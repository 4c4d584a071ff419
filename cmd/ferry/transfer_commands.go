package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/api"
	"ferry/internal/apiclient"
)

const watchWait = 20 * time.Second

func newTransferCommand(ctx *commandContext) *cobra.Command {
	transferCmd := &cobra.Command{
		Use:     "transfer",
		Aliases: []string{"t"},
		Short:   "Start, inspect, and cancel transfer batches",
	}
	transferCmd.AddCommand(newTransferStartCommand(ctx))
	transferCmd.AddCommand(newTransferStatusCommand(ctx))
	transferCmd.AddCommand(newTransferListCommand(ctx))
	transferCmd.AddCommand(newTransferCancelCommand(ctx))
	transferCmd.AddCommand(newTransferWatchCommand(ctx))
	return transferCmd
}

func newTransferStartCommand(ctx *commandContext) *cobra.Command {
	var req api.StartTransferRequest
	var ids []int64
	var watch bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a transfer batch for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req.RecordIDs = ids
			resp, err := client.StartTransfer(cmd.Context(), req)
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if asJSON && !watch {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s accepted (%d items)\n", resp.BatchID, resp.Transfer.Progress.Total)
			if !watch {
				return nil
			}
			return watchTransfer(cmd, ctx, client, resp.BatchID)
		},
	}
	cmd.Flags().StringVarP(&req.TenantID, "tenant", "t", "", "Tenant whose records are transferred (required)")
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "Restrict the batch to these record ids")
	cmd.Flags().StringVar(&req.From, "from", "", "Earliest session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.To, "to", "", "Latest session date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&req.IncludeTransferred, "include-transferred", false, "Also resend records already marked transferred")
	cmd.Flags().StringVar(&req.BatchID, "batch-id", "", "Use this batch id instead of a generated one")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the batch finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newTransferStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Transfer(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, job)
			}
			printTransferDetail(cmd, job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newTransferListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List batches known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.Transfers(cmd.Context(), status)
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if asJSON {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTransferTable(jobs, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show batches in this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newTransferCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Stop a batch after its current item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			out := cmd.OutOrStdout()
			switch job.Status {
			case "completed", "error", "cancelled":
				fmt.Fprintf(out, "Batch %s already finished (%s)\n", job.ID, job.Status)
			default:
				fmt.Fprintf(out, "Cancellation requested for batch %s\n", job.ID)
			}
			return nil
		},
	}
}

func newTransferWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <batch-id>",
		Short: "Follow a batch's progress events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return watchTransfer(cmd, ctx, client, args[0])
		},
	}
}

// watchTransfer long-polls the event endpoint and prints each event until the
// batch reports done, then prints the final snapshot.
func watchTransfer(cmd *cobra.Command, ctx *commandContext, client *apiclient.Client, batchID string) error {
	out := cmd.OutOrStdout()
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	var since uint64
	for {
		page, err := client.Events(runCtx, batchID, apiclient.EventQuery{Since: since, Follow: true, Wait: watchWait})
		if err != nil {
			return ctx.wrapAPIError(err)
		}
		for _, evt := range page.Events {
			if line := formatEvent(evt); line != "" {
				fmt.Fprintln(out, line)
			}
		}
		since = page.Next
		if page.Done {
			break
		}
	}

	job, err := client.Transfer(runCtx, batchID)
	if err != nil {
		return ctx.wrapAPIError(err)
	}
	printTransferDetail(cmd, job)
	if job.Status == "error" {
		return fmt.Errorf("batch %s aborted: %s", batchID, strings.TrimSpace(job.Message))
	}
	return nil
}
