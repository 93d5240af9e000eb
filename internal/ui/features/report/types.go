package report

import (
	"context"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Source is the sequencing point the handlers read from and submit to.
type Source interface {
	Submit(ctx context.Context, raw []byte) error
	Snapshot(ctx context.Context) (*core.Snapshot, error)
	Inspect(ctx context.Context, fn func(*tree.Tree, *aggregate.Engine)) error
}

// EventSnapshot names the first SSE event of a stream: the full snapshot
// the following canonical events apply to.
const EventSnapshot core.EventName = "SNAPSHOT"

// NodeView is the derived state of one entity.
type NodeView struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Status      core.TestStatus  `json:"status"`
	CheckStatus core.CheckStatus `json:"checkStatus"`
	Retried     bool             `json:"retried"`
	Shown       bool             `json:"shown"`
	Children    []string         `json:"children"`
}

// IngestResult reports how many notifications a POST accepted.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Health is the /healthz payload.
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Seq         uint64 `json:"seq"`
	Ended       bool   `json:"ended"`
}
