package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/api"
	"ferry/internal/apiclient"
	"ferry/internal/records"
	"ferry/internal/transfer"
)

const defaultRecordListLimit = 100

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"r"},
		Short:   "Inspect and add local records",
	}
	recordsCmd.AddCommand(newRecordsListCommand(ctx))
	recordsCmd.AddCommand(newRecordsAddCommand(ctx))
	return recordsCmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var query apiclient.RecordQuery
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query.Limit <= 0 {
				query.Limit = defaultRecordListLimit
			}
			recs, err := listRecords(cmd.Context(), ctx, query)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRecordTable(recs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query.TenantID, "tenant", "t", "", "Only show this tenant's records")
	cmd.Flags().BoolVar(&query.Pending, "pending", false, "Only show records not yet transferred")
	cmd.Flags().IntVar(&query.Limit, "limit", defaultRecordListLimit, "Maximum records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// listRecords asks the daemon and reads the database directly when the
// daemon is down.
func listRecords(runCtx context.Context, ctx *commandContext, query apiclient.RecordQuery) ([]api.Record, error) {
	client, err := ctx.client()
	if err == nil {
		recs, apiErr := client.Records(runCtx, query)
		if apiErr == nil {
			return recs, nil
		}
		if !apiclient.IsAPIUnavailable(apiErr) {
			return nil, apiErr
		}
	}

	store, err := records.Open(ctx.configValue())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	recs, err := store.List(runCtx, transfer.Filters{
		TenantID:           strings.TrimSpace(query.TenantID),
		OnlyNotTransferred: query.Pending,
	}, query.Limit)
	if err != nil {
		return nil, err
	}
	return api.FromRecords(recs), nil
}

func newRecordsAddCommand(ctx *commandContext) *cobra.Command {
	var rec transfer.Record
	var date string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new record for later transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseSessionDate(date)
			if err != nil {
				return err
			}
			rec.SessionDate = day

			store, err := records.Open(ctx.configValue())
			if err != nil {
				return err
			}
			defer store.Close()

			saved, err := store.Insert(cmd.Context(), rec)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromRecord(saved))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %d stored for %s\n", saved.ID, saved.StudentName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&rec.TenantID, "tenant", "t", "", "Owning tenant (required)")
	cmd.Flags().StringVar(&rec.StudentNumber, "number", "", "Student number (required)")
	cmd.Flags().StringVar(&rec.StudentName, "name", "", "Student name (required)")
	cmd.Flags().StringVar(&date, "date", "", "Session date YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&rec.Topic, "topic", "", "Session topic (required)")
	cmd.Flags().StringVar(&rec.ClassName, "class", "", "Class name")
	cmd.Flags().StringVar(&rec.GroupKey, "group", "", "Group session key; records sharing it are sent as one group")
	cmd.Flags().StringVar(&rec.ActivityType, "activity", "", "Activity type")
	cmd.Flags().StringVar(&rec.Location, "location", "", "Session location")
	cmd.Flags().StringVar(&rec.Notes, "notes", "", "Free-text notes")
	cmd.Flags().IntVar(&rec.DurationMinutes, "duration", 0, "Session length in minutes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func parseSessionDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(api.DateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", value)
	}
	return day, nil
}

func renderRecordTable(recs []api.Record) string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		state := "pending"
		if rec.Transferred {
			state = "transferred"
		} else if rec.RemoteError != "" {
			state = fmt.Sprintf("error x%d", rec.RetryCount)
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.TenantID,
			rec.StudentNumber,
			rec.StudentName,
			rec.SessionDate,
			rec.GroupKey,
			rec.Topic,
			state,
		})
	}
	return renderTable(
		[]string{"ID", "Tenant", "Number", "Name", "Date", "Group", "Topic", "State"},
		rows,
		[]columnAlignment{alignRight},
	)
}
