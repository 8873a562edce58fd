// Package lifecycle runs the long-lived loop that pulls transfer requests
// off a request source and dispatches each to its own coordinator run.
package lifecycle

import (
	"context"
	"sync"

	"rangedl/pkg/logging"
	"rangedl/pkg/rangeerr"
	"rangedl/pkg/request"
)

// Coordinator is the subset of coordinator.Coordinator the loop depends on.
type Coordinator interface {
	Resume(ctx context.Context, url, destination string) error
}

// Loop repeatedly awaits either a stop signal or the next request, and
// dispatches each request to a freshly spawned coordinator run, tracked in
// a mutex-guarded in-flight set.
type Loop struct {
	source      request.Source
	coordinator Coordinator
	log         logging.Logger

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a Loop pulling requests from source and dispatching them
// through coordinator.
func New(source request.Source, coordinator Coordinator, log logging.Logger) *Loop {
	if log == nil {
		log = logging.Discard()
	}
	return &Loop{
		source:      source,
		coordinator: coordinator,
		log:         log,
		inFlight:    make(map[string]context.CancelFunc),
	}
}

// Run selects between ctx cancellation and the next request in a single
// non-deterministic wait; neither branch starves the other. On
// cancellation, Run returns immediately without draining in-flight
// transfers — callers that want a graceful shutdown must track those
// themselves via InFlight. On rangeerr.ErrSourceClosed, Run waits for every
// dispatched transfer to finish and then returns nil.
func (l *Loop) Run(ctx context.Context) error {
	entry := l.log.WithField("component", "lifecycle")
	for {
		req, err := l.source.Next(ctx)
		switch {
		case err == nil:
			l.dispatch(ctx, req, entry)
		case err == rangeerr.ErrSourceClosed:
			entry.Info("request source closed, waiting for in-flight transfers")
			l.wg.Wait()
			return nil
		default:
			entry.WithError(err).Info("lifecycle loop stopping")
			return err
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, req request.Request, entry logging.Logger) {
	transferCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.inFlight[req.URL] = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			cancel()
			l.mu.Lock()
			delete(l.inFlight, req.URL)
			l.mu.Unlock()
		}()

		if err := l.coordinator.Resume(transferCtx, req.URL, req.Destination); err != nil {
			entry.WithError(err).WithField("url", req.URL).Warn("transfer failed")
		}
	}()
}

// InFlight reports how many transfers are currently dispatched.
func (l *Loop) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}
