package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/control"
	"github.com/deepnoodle-ai/recon/state"
)

var (
	titleColor = color.New(color.Bold)
	keyColor   = color.New(color.FgCyan)
	goodColor  = color.New(color.FgGreen)
	waitColor  = color.New(color.FgYellow)
	badColor   = color.New(color.FgRed)
)

func statusColor(status string) *color.Color {
	switch status {
	case control.StatusComplete, control.StatusDelivered:
		return goodColor
	case control.StatusPaused, control.StatusRunningOrComplete, control.StatusNotStarted:
		return waitColor
	default:
		return badColor
	}
}

// RenderResponse writes a human readable form of resp.
func RenderResponse(w io.Writer, resp *control.Response) {
	titleColor.Fprintf(w, "Session %s:", resp.SessionID)
	fmt.Fprint(w, " ")
	statusColor(resp.Status).Fprintln(w, resp.Status)

	if resp.Seq >= 0 {
		field(w, "Checkpoint", "#%d", resp.Seq)
	}
	if resp.AtNode != "" && resp.AtNode != recon.Terminal {
		field(w, "At node", "%s", resp.AtNode)
	}
	if len(resp.Nodes) > 0 {
		field(w, "Processed", "%s", joinNodes(resp.Nodes))
	}
	if resp.Matches > 0 {
		field(w, "Matches", "%d", resp.Matches)
	}
	if len(resp.Unmatched) > 0 {
		lines := make([]string, 0, len(resp.Unmatched))
		for _, item := range resp.Unmatched {
			lines = append(lines, describe(item))
		}
		field(w, "Unmatched", "%s", strings.Join(lines, ", "))
	}
	if resp.Item != nil {
		field(w, "Item", "%s", describe(*resp.Item))
	}
	if resp.Suggestion != "" {
		field(w, "Suggestion", "%s", resp.Suggestion)
	}
	if len(resp.Labels) > 0 {
		field(w, "Options", "%s", strings.Join(resp.Labels, " | "))
	}
	if resp.Notification != "" {
		field(w, "Notification", "%s", resp.Notification)
	}
	if resp.DeliveryID != "" {
		field(w, "Delivery", "%s", resp.DeliveryID)
	}
	if resp.Audit != nil {
		field(w, "Last audit", "%s", describeOutcome(resp.Audit))
	}
	if len(resp.Checkpoints) > 0 {
		keyColor.Fprintln(w, "  History:")
		for _, cp := range resp.Checkpoints {
			line := fmt.Sprintf("    #%-3d %-13s -> %s", cp.Seq, cp.Node, cp.Next)
			if cp.Note != "" {
				line += " (" + cp.Note + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
	if resp.Error != "" {
		msg := resp.Error
		if resp.ErrorType != "" {
			msg += " (" + resp.ErrorType + ")"
		}
		badColor.Fprintln(w, "  Error: "+msg)
	}
}

// RenderItem writes a confirmation for an item added to the ledger.
func RenderItem(w io.Writer, item state.Item) {
	goodColor.Fprint(w, "Added item")
	fmt.Fprintln(w, " "+describe(item))
}

// RenderCategory writes a confirmation for a category added to the ledger.
func RenderCategory(w io.Writer, name string) {
	goodColor.Fprint(w, "Added category")
	fmt.Fprintf(w, " %q\n", name)
}

func field(w io.Writer, name, format string, args ...any) {
	keyColor.Fprintf(w, "  %-13s", name+":")
	fmt.Fprintf(w, " "+format+"\n", args...)
}

func joinNodes(nodes []recon.NodeID) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}

func describe(item state.Item) string {
	text := fmt.Sprintf("%q %s", item.Description, item.Amount.StringFixed(2))
	if item.ID != 0 {
		text = fmt.Sprintf("#%d %s", item.ID, text)
	}
	return text
}

func describeOutcome(o *state.Outcome) string {
	text := fmt.Sprintf("%q %s -> %s [%s]", o.Description, o.Amount.StringFixed(2), o.Category, o.Status)
	if len(o.Flags) > 0 {
		text += " flags: " + strings.Join(o.Flags, ", ")
	}
	return text
}
