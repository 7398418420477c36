package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/deepnoodle-ai/recon"
)

// progress prints each node of a traversal as it runs, with the checkpoint
// the node will write.
type progress struct {
	recon.BaseExecutionCallbacks
	w io.Writer
}

var _ recon.ExecutionCallbacks = (*progress)(nil)

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

func (p *progress) BeforeNode(ctx context.Context, event *recon.NodeEvent) {
	keyColor.Fprintf(p.w, "> %s", event.Node)
	fmt.Fprintf(p.w, " (checkpoint #%d)\n", event.Seq)
}

func (p *progress) AfterNode(ctx context.Context, event *recon.NodeEvent) {
	if event.Error != nil {
		badColor.Fprintf(p.w, "x %s failed: %v\n", event.Node, event.Error)
		return
	}
	goodColor.Fprintf(p.w, "  %s done", event.Node)
	fmt.Fprintf(p.w, " -> %s in %s\n", event.Next, event.Duration.Round(time.Millisecond))
}

func (p *progress) OnPause(ctx context.Context, event *recon.TraversalEvent) {
	waitColor.Fprintf(p.w, "paused for review at checkpoint #%d\n", event.Seq)
}

func (p *progress) OnComplete(ctx context.Context, event *recon.TraversalEvent) {
	goodColor.Fprintf(p.w, "complete at checkpoint #%d\n", event.Seq)
}
