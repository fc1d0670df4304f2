package rdnstap

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Single goroutine that drains the queue and writes frames to the collector. It's
// the only writer on the connection and performs all blocking network I/O of a
// tap.
type dispatcher struct {
	queue   *queue
	conn    *connection
	metrics *TapMetrics
	log     *logrus.Entry
	done    chan struct{}
}

func newDispatcher(id string, q *queue, conn *connection, metrics *TapMetrics) *dispatcher {
	return &dispatcher{
		queue:   q,
		conn:    conn,
		metrics: metrics,
		log:     logger(id),
		done:    make(chan struct{}),
	}
}

// Runs until the queue is closed and empty. Frames that fail to send are put back
// into the queue and sent again after reconnecting, so the collector may see a
// frame more than once. Once ctx is cancelled, frames that can't be sent on the
// current connection are dropped.
func (d *dispatcher) run(ctx context.Context) {
	defer close(d.done)
	d.log.Info("starting dnstap worker")
	for {
		f, ok := d.queue.pop()
		if !ok {
			break
		}
		if !d.conn.ensureConnected(ctx) {
			d.metrics.dropped.Add("shutdown", 1)
			continue
		}
		if err := d.conn.write(f); err != nil {
			d.metrics.sendFailure.Add(1)
			d.log.WithError(err).Warn("failed to send event, reconnecting")
			d.queue.requeue(f)
			d.conn.teardown(ctx)
			continue
		}
		d.metrics.sent.Add(1)
		d.log.WithField("length", f.Len()).Trace("sent event to collector")
	}
	d.conn.teardown(ctx)
	d.log.Info("stopping dnstap worker")
}
