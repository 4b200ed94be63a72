package flow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

const (
	retryBaseInterval   = 100 * time.Millisecond
	retryMultiplier     = 2.0
	retryMaxInterval    = 30 * time.Second
	retryRandomization  = 0.2
	retryMaxAttempts    = 8
)

// FailureRecord is emitted to the error channel when a destination
// exhausts its retry budget for a batch (spec §4.3).
type FailureRecord struct {
	FlowName        string
	DestinationName string
	EventIDs        []string
	Err             error
}

type namedDestination struct {
	name string
	dest destination.Destination
}

// defaultBackoff builds the spec-mandated exponential backoff (spec §4.3):
// 100ms base, x2 multiplier, 30s cap, ±20% jitter.
func defaultBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval
	bo.RandomizationFactor = retryRandomization
	bo.MaxElapsedTime = 0
	return bo
}

// fanoutWriter applies each batch to every destination concurrently, with
// per-destination exponential backoff retry, generalizing the teacher's
// single-destination reconnect loop (lib/output/writer.go) to N parallel
// destinations with independent retry state. Within a single destination no
// overlapping WriteBatch calls are made: the writer only begins the next
// batch once every destination has either succeeded or exhausted retries
// for the current one.
type fanoutWriter struct {
	flowName  string
	dests     []namedDestination
	metrics   *metrics
	log       zerolog.Logger
	onFailure func(FailureRecord)
	acker     func(ctx context.Context, eventID string) error

	// newBackoff builds the retry schedule for writeToDestination; nil
	// defaults to the spec-mandated exponential backoff. Overridden in
	// tests to exercise the retry path without waiting out real delays.
	newBackoff func() backoff.BackOff
}

func (w *fanoutWriter) writeBatch(ctx context.Context, batch []event.ChangeEvent) {
	w.metrics.addMessagesReceived(int64(len(batch)))

	var g errgroup.Group
	for _, nd := range w.dests {
		nd := nd
		g.Go(func() error {
			w.writeToDestination(ctx, nd, batch)
			return nil
		})
	}
	_ = g.Wait()

	w.metrics.addRecordsProcessed(int64(len(batch)))
}

func (w *fanoutWriter) writeToDestination(ctx context.Context, nd namedDestination, batch []event.ChangeEvent) {
	build := w.newBackoff
	if build == nil {
		build = defaultBackoff
	}
	bounded := backoff.WithMaxRetries(build(), retryMaxAttempts-1)

	var lastReport destination.WriteReport
	var lastErr error

	attempt := func() error {
		report, err := nd.dest.WriteBatch(ctx, batch)
		lastReport = report
		lastErr = err
		if err != nil {
			return err
		}
		if !report.AllOK() {
			return errFirstFailure(report)
		}
		return nil
	}

	err := backoff.Retry(attempt, bounded)
	if err == nil {
		w.metrics.addWritesOK(nd.name, int64(len(batch)))
		w.ackSucceeded(ctx, lastReport)
		return
	}

	// Retries exhausted: record the failure, don't reattempt globally, ack
	// the records the final attempt reported as succeeded, and leave the
	// failed ones un-acked so an ack-capable connector redelivers them.
	succeeded := lastReport.Succeeded()
	w.ackSucceeded(ctx, lastReport)

	w.metrics.addWritesFailed(nd.name, int64(len(batch)-len(succeeded)))
	w.metrics.addErrors(1)

	failedIDs := make([]string, 0, len(batch))
	for _, ev := range batch {
		found := false
		for _, ok := range succeeded {
			if ok == ev.ID.String() {
				found = true
				break
			}
		}
		if !found {
			failedIDs = append(failedIDs, ev.ID.String())
		}
	}
	if w.onFailure != nil {
		w.onFailure(FailureRecord{
			FlowName:        w.flowName,
			DestinationName: nd.name,
			EventIDs:        failedIDs,
			Err:             lastErr,
		})
	}
}

func (w *fanoutWriter) ackSucceeded(ctx context.Context, report destination.WriteReport) {
	if w.acker == nil {
		return
	}
	for _, id := range report.Succeeded() {
		_ = w.acker(ctx, id)
	}
}

// errFirstFailure turns a partial-batch WriteReport into an error so the
// backoff loop retries. Each attempt rewrites the whole batch and replaces
// lastReport, so only the final attempt's successes count once retries
// give up.
func errFirstFailure(report destination.WriteReport) error {
	for _, o := range report.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}
