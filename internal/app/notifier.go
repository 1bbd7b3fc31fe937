package app

import (
	"context"
	"sync"
	"time"

	"tranche_investor/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

const defaultDeliveryTimeout = 15 * time.Second

// Dispatcher fans trade outcomes out to every sink in the background. A slow or
// failing sink never delays the execution engine.
type Dispatcher struct {
	sinks   []notification.Sink
	timeout time.Duration
	logger  *logrus.Entry
	wg      sync.WaitGroup
}

func NewDispatcher(logger *logrus.Entry, timeout time.Duration, sinks ...notification.Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.WithField("component", "notifier"),
	}
}

// AddSink registers another sink. Not safe to call once events are flowing.
func (d *Dispatcher) AddSink(sink notification.Sink) {
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) NotifyTradeOutcome(_ context.Context, event notification.TradeEvent) {
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go d.deliver(sink, event)
	}
}

func (d *Dispatcher) deliver(sink notification.Sink, event notification.TradeEvent) {
	defer d.wg.Done()
	log := d.logger.WithFields(logrus.Fields{
		"sink":        sink.Name(),
		"schedule_id": event.ScheduleID,
		"status":      event.Status,
	})
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Recovered from panic in notification sink")
		}
	}()

	// detached from the caller so delivery outlives the execution that produced it
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := sink.Deliver(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to deliver trade notification")
		return
	}
	log.Debug("Trade notification delivered")
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
