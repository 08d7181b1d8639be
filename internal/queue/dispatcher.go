// Package queue is the in-process work queue behind DISPATCH_MODE=queue: a
// bounded channel of prepared send units drained by a fixed worker pool.
// Unit state lives in the database, so a dropped unit is re-dispatched by a
// later pass rather than lost.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/internal/service"
	"github.com/zapgate/campaign-service/pkg/logger"
)

// ErrQueueFull signals backpressure to the enqueuing pass; the campaign is
// reverted and retried later instead of blocking the scheduler.
var ErrQueueFull = errors.New("work queue is full")

type sendExecutor interface {
	ExecuteSend(ctx context.Context, p *service.PreparedSend, maxAttempts int) error
}

type recipientStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Recipient, error)
	CountOpen(ctx context.Context, campaignID int64) (int64, error)
}

type campaignFinisher interface {
	Finish(ctx context.Context, id int64, status domain.CampaignStatus, endTime time.Time) error
}

// Dispatcher owns the unit channel and the worker pool.
type Dispatcher struct {
	executor   sendExecutor
	recipients recipientStore
	campaigns  campaignFinisher
	config     environments.DispatchConfig

	units chan *service.PreparedSend
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewDispatcher(executor sendExecutor, recipients recipientStore, campaigns campaignFinisher, config environments.DispatchConfig) *Dispatcher {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	return &Dispatcher{
		executor:   executor,
		recipients: recipients,
		campaigns:  campaigns,
		config:     config,
		units:      make(chan *service.PreparedSend, config.QueueSize),
	}
}

// Start launches the worker pool. Workers run until Stop closes the channel
// or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 1; i <= d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	logger.Infof("Work queue started: %d workers, capacity %d", d.config.WorkerCount, d.config.QueueSize)
}

// Enqueue offers a unit without blocking. ErrQueueFull tells the caller to
// back off; a closed queue refuses everything.
func (d *Dispatcher) Enqueue(p *service.PreparedSend) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("work queue is shut down")
	}
	d.mu.Unlock()

	select {
	case d.units <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports how many units are waiting.
func (d *Dispatcher) Depth() int {
	return len(d.units)
}

// Stop refuses new units, drains the ones already queued and waits for the
// workers, giving up when ctx ends first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.units)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("Work queue drained and stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("work queue shutdown interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case unit, ok := <-d.units:
			if !ok {
				return
			}
			d.process(ctx, id, unit)
		}
	}
}

// process executes one unit: re-validate the claim, pace, send, and close
// the campaign when it was the last open recipient.
func (d *Dispatcher) process(ctx context.Context, workerID int, unit *service.PreparedSend) {
	recipient, err := d.recipients.GetByID(ctx, unit.Recipient.ID)
	if err != nil {
		logger.Errorf("Worker %d: failed to load recipient %d: %v", workerID, unit.Recipient.ID, err)
		return
	}
	if recipient.Status != domain.RecipientQueued {
		// An opt-out or cancellation landed while the unit sat in the
		// queue. The unit is stale; drop it.
		logger.Infof("Worker %d: recipient %d moved to %s while queued, dropping unit %s",
			workerID, recipient.ID, recipient.Status, unit.UnitID)
		return
	}

	if err := d.pace(ctx, unit); err != nil {
		return
	}

	if err := d.executor.ExecuteSend(ctx, unit, d.config.MaxSendAttempts); err != nil {
		logger.Errorf("Worker %d: unit %s failed: %v", workerID, unit.UnitID, err)
	}

	d.maybeComplete(ctx, unit.Campaign)
}

func (d *Dispatcher) pace(ctx context.Context, unit *service.PreparedSend) error {
	delay := service.RandomPacing(unit.Campaign.IntervalMin, unit.Campaign.IntervalMax)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// maybeComplete finishes the campaign once no pending or queued recipient
// remains. Workers race here; the conditional update in Finish keeps the
// transition single-shot enough that a duplicate call is harmless.
func (d *Dispatcher) maybeComplete(ctx context.Context, campaign *domain.Campaign) {
	open, err := d.recipients.CountOpen(ctx, campaign.ID)
	if err != nil {
		logger.Errorf("Failed to count open recipients for campaign %d: %v", campaign.ID, err)
		return
	}
	if open > 0 {
		return
	}

	if err := d.campaigns.Finish(ctx, campaign.ID, domain.CampaignCompleted, time.Now()); err != nil {
		logger.Errorf("Failed to complete campaign %d: %v", campaign.ID, err)
		return
	}
	logger.Infof("Campaign %d completed by work queue", campaign.ID)
}
