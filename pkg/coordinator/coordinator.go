// Package coordinator orchestrates one transfer: it probes the source,
// plans byte ranges across workers, and drives them to completion against
// a shared file sink and segment store.
package coordinator

import (
	"context"
	"net/http"
	"os"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rangedl/pkg/logging"
	"rangedl/pkg/planner"
	"rangedl/pkg/segment"
	"rangedl/pkg/sink"
	"rangedl/pkg/store"
	"rangedl/pkg/transport"
	"rangedl/pkg/worker"
)

// Coordinator drives one transfer from probe through completion.
type Coordinator struct {
	client *http.Client
	store  store.Store
	log    logging.Logger

	// Workers overrides planner.DefaultWorkerCount when non-zero.
	Workers int64
}

// New returns a Coordinator issuing requests through client and persisting
// segments in st.
func New(client *http.Client, st store.Store, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{client: client, store: st, log: log}
}

// Run executes the fresh-transfer path: probe, plan, insert segments,
// spawn one worker per segment, and wait for all of them. Run always starts
// from a fresh plan and ignores any segment records already stored for url;
// call Resume to continue from those.
func (c *Coordinator) Run(ctx context.Context, url, destination string) error {
	transferID := uuid.NewString()
	entry := c.log.WithField("transfer_id", transferID).WithField("url", url)

	probe, err := transport.ProbeURL(ctx, c.client, url)
	if err != nil {
		return err
	}
	entry = entry.WithField("size", units.HumanSize(float64(probe.Size)))

	dest, err := sink.Open(destination, probe.Size)
	if err != nil {
		return err
	}
	defer func() { _ = dest.Close() }()

	workers := c.Workers
	if workers == 0 {
		workers = planner.DefaultWorkerCount()
	}
	ranges := planner.Plan(probe.Size, workers)
	entry.WithField("workers", len(ranges)).Info("starting transfer")

	segs := make([]segment.Segment, 0, len(ranges))
	for _, r := range ranges {
		seg := segment.Segment{URL: url, FilePath: destination, Offset: r.Begin, Remaining: r.Len()}
		id, err := c.store.Add(ctx, seg)
		if err != nil {
			return err
		}
		seg.ID = id
		segs = append(segs, seg)
	}

	return c.runWorkers(ctx, dest, segs)
}

// Resume looks up any live segments already recorded for url and drives
// them to completion without re-planning or re-probing. If no segments
// exist, it falls back to Run. Resume does not check that the recorded
// segments cover the whole resource: any non-empty set is resumed as
// recorded. The destination is sized to the furthest segment end, or kept
// at its current length when that is larger.
func (c *Coordinator) Resume(ctx context.Context, url, destination string) error {
	segs, err := c.store.ListByURL(ctx, url)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return c.Run(ctx, url, destination)
	}

	var total int64
	for _, seg := range segs {
		if seg.End() > total {
			total = seg.End()
		}
	}
	// Completed segments are no longer recorded, so the furthest live end
	// can fall short of bytes already written; never truncate those away.
	if info, err := os.Stat(destination); err == nil && info.Size() > total {
		total = info.Size()
	}

	c.log.WithField("url", url).
		WithField("segments", len(segs)).
		WithField("size", units.HumanSize(float64(total))).
		Info("resuming transfer from existing segments")

	dest, err := sink.Open(destination, total)
	if err != nil {
		return err
	}
	defer func() { _ = dest.Close() }()

	return c.runWorkers(ctx, dest, segs)
}

func (c *Coordinator) runWorkers(ctx context.Context, dest *sink.Sink, segs []segment.Segment) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		seg := seg
		group.Go(func() error {
			return worker.Run(groupCtx, c.client, c.store, dest, seg, c.log)
		})
	}
	return group.Wait()
}
