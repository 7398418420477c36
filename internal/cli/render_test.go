package cli

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/control"
	"github.com/deepnoodle-ai/recon/state"
)

func disableColor(t *testing.T) {
	t.Helper()
	previous := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = previous })
}

func TestRenderResponseGolden(t *testing.T) {
	disableColor(t)

	tests := []struct {
		name string
		resp *control.Response
	}{
		{
			name: "paused",
			resp: &control.Response{
				Status:       control.StatusPaused,
				SessionID:    "DEC_2025_RECON",
				AtNode:       "human_review",
				Seq:          2,
				Nodes:        []recon.NodeID{"matchmaker", "investigator"},
				Item:         &state.Item{ID: 1, Description: "Mystery Wire Transfer", Amount: decimal.NewFromInt(1200)},
				Suggestion:   "Looks like a software subscription.",
				Labels:       []string{"Software", "Office Supplies"},
				Notification: state.NotificationDelivered,
			},
		},
		{
			name: "complete",
			resp: &control.Response{
				Status:    control.StatusComplete,
				SessionID: "DEC_2025_RECON",
				Seq:       5,
				Nodes:     []recon.NodeID{"human_review", "auditor", "matchmaker"},
				Matches:   1,
				Unmatched: []state.Item{{Description: "Unknown Fee", Amount: decimal.RequireFromString("-12.50")}},
				Audit: &state.Outcome{
					ItemID:      4,
					Description: "Consulting Retainer",
					Amount:      decimal.NewFromInt(7500),
					Category:    "Sales Revenue",
					Status:      "PENDING_SECONDARY_SIGNOFF",
					Flags:       []string{"MATERIALITY_EXCEEDED"},
				},
			},
		},
		{
			name: "history",
			resp: &control.Response{
				Status:    control.StatusComplete,
				SessionID: "DEC_2025_RECON",
				AtNode:    recon.Terminal,
				Seq:       5,
				Checkpoints: []*recon.Checkpoint{
					{Seq: 0, Node: recon.StartNode, Next: "matchmaker"},
					{Seq: 1, Node: "matchmaker", Next: "investigator"},
					{Seq: 2, Node: "investigator", Next: "human_review"},
					{Seq: 3, Node: recon.ResumeNode, Next: "override", Note: recon.NoteOverride},
					{Seq: 4, Node: "override", Next: "matchmaker"},
					{Seq: 5, Node: "matchmaker", Next: recon.Terminal},
				},
			},
		},
		{
			name: "stale_write",
			resp: &control.Response{
				Status:    control.StatusStaleWrite,
				SessionID: "DEC_2025_RECON",
				Seq:       -1,
				Error:     recon.ErrStaleWrite.Error(),
				ErrorType: recon.ErrorTypeContract,
			},
		},
		{
			name: "delivery_failed",
			resp: &control.Response{
				Status:     control.StatusDeliveryFailed,
				SessionID:  "DEC_2025_RECON",
				AtNode:     "human_review",
				Seq:        2,
				Item:       &state.Item{ID: 3, Description: "AWS Invoice", Amount: decimal.RequireFromString("-349.99")},
				Labels:     []string{"Software", "Hosting"},
				DeliveryID: "5f2b8a0e-3c1d-4e7a-9b6f-2d8c1a4e7b90",
				Error:      "unexpected status 503: unavailable",
				ErrorType:  recon.ErrorTypeGateway,
			},
		},
		{
			name: "not_started",
			resp: &control.Response{
				Status:    control.StatusNotStarted,
				SessionID: "JAN_2026_RECON",
				Seq:       -1,
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderResponse(&buf, tt.resp)
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestRenderLedgerConfirmations(t *testing.T) {
	disableColor(t)

	var buf bytes.Buffer
	RenderItem(&buf, state.Item{ID: 7, Description: "Coffee Beans", Amount: decimal.RequireFromString("-4.5")})
	RenderCategory(&buf, "Office Supplies")
	require.Equal(t, "Added item #7 \"Coffee Beans\" -4.50\nAdded category \"Office Supplies\"\n", buf.String())
}
