package notify

import (
	"context"
	"time"

	"channel-sub-bot/logger"
	"channel-sub-bot/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	KindAdmin     = "admin"
	KindUser      = "user"
	KindBroadcast = "broadcast"
)

// Delivery is the outcome of one send.
type Delivery struct {
	Recipient int64
	Err       error
}

type Report struct {
	Deliveries []Delivery
}

func (r Report) Succeeded() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

func (r Report) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Notifier delivers messages concurrently and collects one result per
// recipient. Delivery errors are logged and reported, never returned as a
// failure of the caller's operation.
type Notifier struct {
	sender      Sender
	admins      []int64
	sendTimeout time.Duration
	batchSize   int
	minSuccess  float64
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
}

type Option func(*Notifier)

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.sendTimeout = d }
}

// WithBatchSize sets the broadcast batch size, which is also the fan-out
// concurrency limit.
func WithBatchSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.batchSize = size
		}
	}
}

// WithMinSuccess sets the success ratio below which a broadcast stops.
func WithMinSuccess(ratio float64) Option {
	return func(n *Notifier) { n.minSuccess = ratio }
}

// WithRate caps broadcast sends per second. Zero means unlimited.
func WithRate(perSecond float64) Option {
	return func(n *Notifier) {
		if perSecond <= 0 {
			n.limiter = nil
			return
		}
		n.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func New(sender Sender, admins []int64, opts ...Option) *Notifier {
	n := &Notifier{
		sender:      sender,
		admins:      admins,
		sendTimeout: 10 * time.Second,
		batchSize:   30,
		minSuccess:  0.7,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fanout sends msg to every recipient concurrently and waits for all of them.
func (n *Notifier) Fanout(ctx context.Context, kind string, recipients []int64, msg Message) Report {
	results := make([]Delivery, len(recipients))

	var g errgroup.Group
	g.SetLimit(n.batchSize)
	for i, to := range recipients {
		g.Go(func() error {
			results[i] = Delivery{Recipient: to, Err: n.send(ctx, kind, to, msg)}
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range results {
		if d.Err != nil {
			logger.Log.Warn("delivery failed",
				logger.String("kind", kind),
				logger.Int64("recipient", d.Recipient),
				logger.Error(d.Err),
			)
		}
	}
	return Report{Deliveries: results}
}

func (n *Notifier) send(ctx context.Context, kind string, to int64, msg Message) error {
	if n.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.sendTimeout)
		defer cancel()
	}

	var err error
	if msg.Photo != "" {
		err = n.sender.SendPhoto(ctx, to, msg.Photo, msg.Text, msg.Keyboard)
	} else {
		err = n.sender.SendText(ctx, to, msg.Text, msg.Keyboard)
	}
	n.metrics.ObserveDelivery(kind, err)
	return err
}

// NotifyAdmins alerts every admin.
func (n *Notifier) NotifyAdmins(ctx context.Context, msg Message) Report {
	return n.Fanout(ctx, KindAdmin, n.admins, msg)
}

// NotifyUser sends one message. The error is returned so callers that care
// about the reason can show it; it has already been logged.
func (n *Notifier) NotifyUser(ctx context.Context, userID int64, msg Message) error {
	rep := n.Fanout(ctx, KindUser, []int64{userID}, msg)
	return rep.Deliveries[0].Err
}
