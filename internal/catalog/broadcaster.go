package catalog

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/catalogd/internal/cluster"
	"github.com/dreamware/catalogd/internal/metrics"
)

// Broadcast operations.
const (
	OpCreate = "create"
	OpDelete = "delete"
)

// Per-peer outcome statuses.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// DefaultPeerTimeout bounds a single peer call when none is configured.
const DefaultPeerTimeout = 5 * time.Second

// PeerOutcome is the result of one peer call.
type PeerOutcome struct {
	Node     string        `json:"node"`
	URI      string        `json:"uri"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BroadcastResult records one pass of a fan-out over a list of peers.
// Outcomes are in visit order.
type BroadcastResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Operation string        `json:"operation"`
	Catalog   string        `json:"catalog"`
	Outcomes  []PeerOutcome `json:"outcomes"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns the number of peers that did not apply the operation.
func (r BroadcastResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusOK {
			n++
		}
	}
	return n
}

// PeerClient applies catalog operations on a single remote node.
type PeerClient interface {
	CreateCatalog(ctx context.Context, node cluster.NodeInfo, info cluster.CatalogInfo) error
	DeleteCatalog(ctx context.Context, node cluster.NodeInfo, name string) error
}

// Broadcaster sends a catalog operation to a list of peers. Peer failures
// are recorded in the result and never abort the fan-out.
type Broadcaster struct {
	log         *zap.Logger
	peers       PeerClient
	timeout     time.Duration
	concurrency int
}

// NewBroadcaster returns a Broadcaster that gives every peer call its own
// timeout. With concurrency above one, up to that many peers are called
// at once.
func NewBroadcaster(log *zap.Logger, peers PeerClient, timeout time.Duration, concurrency int) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Broadcaster{
		log:         log.Named("broadcast"),
		peers:       peers,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// CreateOnAll asks every node to create info locally.
func (b *Broadcaster) CreateOnAll(ctx context.Context, nodes []cluster.NodeInfo, info cluster.CatalogInfo) BroadcastResult {
	return b.run(ctx, OpCreate, info.CatalogName, nodes, func(ctx context.Context, n cluster.NodeInfo) error {
		return b.peers.CreateCatalog(ctx, n, info)
	})
}

// DeleteOnAll asks every node to remove catalog name locally.
func (b *Broadcaster) DeleteOnAll(ctx context.Context, nodes []cluster.NodeInfo, name string) BroadcastResult {
	return b.run(ctx, OpDelete, name, nodes, func(ctx context.Context, n cluster.NodeInfo) error {
		return b.peers.DeleteCatalog(ctx, n, name)
	})
}

// run visits nodes on a context that ignores the caller's cancellation;
// once started a broadcast always completes. It returns after every
// peer call finished.
func (b *Broadcaster) run(ctx context.Context, op, catalog string, nodes []cluster.NodeInfo, call func(context.Context, cluster.NodeInfo) error) BroadcastResult {
	ctx = context.WithoutCancel(ctx)
	res := BroadcastResult{
		Operation: op,
		Catalog:   catalog,
		StartedAt: time.Now(),
		Outcomes:  make([]PeerOutcome, len(nodes)),
	}

	if b.concurrency == 1 || len(nodes) < 2 {
		for i, n := range nodes {
			res.Outcomes[i] = b.visit(ctx, op, catalog, n, call)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(b.concurrency)
		for i, n := range nodes {
			g.Go(func() error {
				res.Outcomes[i] = b.visit(ctx, op, catalog, n, call)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Duration = time.Since(res.StartedAt)
	metrics.RecordBroadcast(op, res.Duration)
	if len(nodes) > 0 {
		b.log.Debug("broadcast finished",
			zap.String("operation", op),
			zap.String("catalog", catalog),
			zap.Int("peers", len(nodes)),
			zap.Int("failed", res.Failed()),
			zap.Duration("took", res.Duration))
	}
	return res
}

func (b *Broadcaster) visit(ctx context.Context, op, catalog string, n cluster.NodeInfo, call func(context.Context, cluster.NodeInfo) error) PeerOutcome {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := call(ctx, n)
	out := PeerOutcome{Node: n.Identifier, URI: n.URI, Status: StatusOK, Duration: time.Since(start)}
	if err != nil {
		out.Status = StatusError
		if isTimeout(err) {
			out.Status = StatusTimeout
		}
		out.Error = err.Error()
		b.log.Warn("error sending catalog request to peer",
			zap.String("operation", op),
			zap.String("catalog", catalog),
			zap.String("node", n.Identifier),
			zap.String("uri", n.URI),
			zap.String("status", out.Status),
			zap.Error(err))
	}
	metrics.RecordPeerRequest(op, out.Status)
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
