package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ferry/internal/api"
	"ferry/internal/transfer"
)

func renderTransferTable(jobs []api.TransferJob, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Status,
			fmt.Sprintf("%d/%d", job.Progress.Completed+job.Progress.Failed, job.Progress.Total),
			strconv.Itoa(job.Progress.Failed),
			relativeTime(job.CreatedAt, now),
			formatDuration(time.Duration(job.DurationMillis) * time.Millisecond),
		})
	}
	return renderTable(
		[]string{"Batch", "Status", "Done", "Failed", "Created", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight},
	)
}

func printTransferDetail(cmd *cobra.Command, job api.TransferJob) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	now := time.Now()

	for _, line := range renderSectionHeader("Batch "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", transferStatusKind(job.Status), job.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%d completed, %d failed of %d (%.1f%%)",
		job.Progress.Completed, job.Progress.Failed, job.Progress.Total, job.Progress.Percent), colorize))
	if job.CancelRequested && job.Status != "cancelled" {
		fmt.Fprintln(out, renderStatusLine("Cancel", statusWarn, "requested", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, relativeTime(job.CreatedAt, now), colorize))
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(time.Duration(job.DurationMillis)*time.Millisecond), colorize))
	if msg := strings.TrimSpace(job.Message); msg != "" {
		fmt.Fprintln(out, renderStatusLine("Message", statusError, msg, colorize))
	}
	if len(job.Errors) == 0 {
		return
	}
	rows := make([][]string, 0, len(job.Errors))
	for _, e := range job.Errors {
		rows = append(rows, []string{e.ItemID, joinIDs(e.RecordIDs), e.Message})
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderTable([]string{"Item", "Records", "Error"}, rows, nil))
}

// formatEvent renders one progress event as a single line; unknown types
// render as empty.
func formatEvent(evt api.TransferEvent) string {
	switch transfer.EventType(evt.Type) {
	case transfer.EventItemStart:
		var p transfer.ItemEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		return fmt.Sprintf("[%d/%d] %s ...", p.Index, p.Total, p.Label)
	case transfer.EventItemDone:
		var p transfer.ItemEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		line := fmt.Sprintf("[%d/%d] %s done", p.Index, p.Total, p.Label)
		if len(p.Rejected) > 0 {
			line += fmt.Sprintf(" (%d members rejected: %s)", len(p.Rejected), joinIDs(p.Rejected))
		}
		return line
	case transfer.EventItemFailed:
		var p transfer.ItemEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		return fmt.Sprintf("[%d/%d] %s failed: %s", p.Index, p.Total, p.Label, p.Message)
	case transfer.EventStatus:
		var p transfer.StatusEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		if p.Message != "" {
			return fmt.Sprintf("status: %s (%s)", p.Status, p.Message)
		}
		return "status: " + string(p.Status)
	case transfer.EventBatchError:
		var p transfer.BatchErrorEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		return "batch error: " + p.Message
	case transfer.EventBatchDone:
		var p transfer.BatchDoneEvent
		if !decodePayload(evt.Payload, &p) {
			return ""
		}
		return fmt.Sprintf("finished %s: %d completed, %d failed of %d in %s",
			p.Status, p.Completed, p.Failed, p.Total, formatDuration(p.Duration()))
	default:
		return ""
	}
}

func decodePayload(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func relativeTime(value string, now time.Time) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
