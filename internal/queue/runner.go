package queue

import (
	"context"

	"github.com/zapgate/campaign-service/internal/service"
)

type campaignEnqueuer interface {
	EnqueueNext(ctx context.Context, enqueue func(*service.PreparedSend) error) (bool, error)
	EnqueueCampaignByID(ctx context.Context, id int64, enqueue func(*service.PreparedSend) error) error
}

// Runner adapts the dispatcher to the scheduler's pass interface: each pass
// resolves the next runnable campaign into queued send units.
type Runner struct {
	service    campaignEnqueuer
	dispatcher *Dispatcher
}

func NewRunner(svc campaignEnqueuer, dispatcher *Dispatcher) *Runner {
	return &Runner{service: svc, dispatcher: dispatcher}
}

func (r *Runner) RunNext(ctx context.Context) (bool, error) {
	return r.service.EnqueueNext(ctx, r.dispatcher.Enqueue)
}

func (r *Runner) RunCampaignByID(ctx context.Context, id int64) error {
	return r.service.EnqueueCampaignByID(ctx, id, r.dispatcher.Enqueue)
}
