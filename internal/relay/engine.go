// Package relay validates pseudonymous send requests and delivers them after
// their delay on independent scheduled tasks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magefree/anonrelay-server-go/internal/registry"
	"go.uber.org/zap"
)

// Replies sent to the author of a message.
const (
	ReplyRecorded = "Message recorded."
	ReplySent     = "Message sent."
	ReplyFailed   = "Sorry. Message could not be delivered."
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("relay closed")

// Responder answers the participant who issued a command.
type Responder interface {
	Reply(ctx context.Context, text string) error
}

// Deliverer pushes text to an arbitrary known identity.
type Deliverer interface {
	Deliver(ctx context.Context, to registry.Identity, text string) error
}

// Directory is the read side of the registry the engine validates against.
type Directory interface {
	HasGame(name string) bool
	ResolveIdentity(game string, id registry.Identity) (string, error)
	ResolveAlias(game, alias string) (registry.Identity, error)
	IsIdentityBanned(game string, id registry.Identity) bool
}

// Request asks for body to be relayed from Sender to the Recipient alias.
type Request struct {
	Game      string
	Sender    registry.Identity
	Recipient string
	Delay     int // in delay units, minutes by default
	Body      string
	Reply     Responder
}

// Delivery is a validated, scheduled message. All fields are resolved when
// the request is accepted and never looked up again.
type Delivery struct {
	ID          string
	Game        string
	SenderAlias string
	Recipient   registry.Identity
	Text        string
	Delay       time.Duration
	Due         time.Time

	reply Responder
}

// Options tunes the engine.
type Options struct {
	// DelayUnit is the length of one unit of Request.Delay.
	DelayUnit time.Duration
	// MaxDelay rejects longer delays when positive, in delay units.
	MaxDelay int
	// DeliveryTimeout bounds a single Deliver call.
	DeliveryTimeout time.Duration
}

// DefaultOptions returns minute-based delays, no delay cap and a 30s delivery timeout.
func DefaultOptions() Options {
	return Options{
		DelayUnit:       time.Minute,
		DeliveryTimeout: 30 * time.Second,
	}
}

// Engine validates and schedules deliveries.
type Engine struct {
	dir       Directory
	deliverer Deliverer
	scheduler Scheduler
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates an engine. A nil scheduler uses the wall clock.
func NewEngine(dir Directory, deliverer Deliverer, scheduler Scheduler, opts Options, logger *zap.Logger) *Engine {
	if scheduler == nil {
		scheduler = WallClock{}
	}
	if opts.DelayUnit <= 0 {
		opts.DelayUnit = time.Minute
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultOptions().DeliveryTimeout
	}
	return &Engine{
		dir:       dir,
		deliverer: deliverer,
		scheduler: scheduler,
		opts:      opts,
		logger:    logger,
		pending:   make(map[string]Timer),
	}
}

// FormatMessage composes the text the recipient sees.
func FormatMessage(senderAlias, game, body string) string {
	return fmt.Sprintf("Message from %s in %s: %s", senderAlias, game, body)
}

// Send validates req and schedules its delivery. It returns as soon as the
// delivery is scheduled; the delay elapses on the scheduler.
func (e *Engine) Send(ctx context.Context, req Request) (*Delivery, error) {
	if req.Delay < 0 {
		return nil, fmt.Errorf("%w: negative delay %d", registry.ErrInvalidArgument, req.Delay)
	}
	if e.opts.MaxDelay > 0 && req.Delay > e.opts.MaxDelay {
		return nil, fmt.Errorf("%w: delay %d exceeds %d", registry.ErrInvalidArgument, req.Delay, e.opts.MaxDelay)
	}
	if int64(req.Delay) > math.MaxInt64/int64(e.opts.DelayUnit) {
		return nil, fmt.Errorf("%w: delay %d overflows", registry.ErrInvalidArgument, req.Delay)
	}
	if !e.dir.HasGame(req.Game) {
		return nil, fmt.Errorf("%w: %s", registry.ErrGameNotFound, req.Game)
	}
	senderAlias, err := e.dir.ResolveIdentity(req.Game, req.Sender)
	if err != nil {
		return nil, err
	}
	if e.dir.IsIdentityBanned(req.Game, req.Sender) {
		return nil, fmt.Errorf("game %s: %w", req.Game, registry.ErrBanned)
	}
	recipient, err := e.dir.ResolveAlias(req.Game, req.Recipient)
	if err != nil {
		return nil, err
	}

	delay := time.Duration(req.Delay) * e.opts.DelayUnit
	d := &Delivery{
		ID:          uuid.NewString(),
		Game:        req.Game,
		SenderAlias: senderAlias,
		Recipient:   recipient,
		Text:        FormatMessage(senderAlias, req.Game, req.Body),
		Delay:       delay,
		Due:         time.Now().Add(delay),
		reply:       req.Reply,
	}

	// Close must not run between the acknowledgement and scheduling, and the
	// acknowledgement must precede the sent confirmation.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if req.Delay > 0 {
		e.reply(ctx, d, ReplyRecorded)
	}
	e.wg.Add(1)
	e.pending[d.ID] = e.scheduler.AfterFunc(delay, func() { e.fire(d) })
	e.mu.Unlock()

	e.logger.Info("delivery scheduled",
		zap.String("delivery_id", d.ID),
		zap.String("game", d.Game),
		zap.Duration("delay", delay),
		zap.Int("body_len", len(req.Body)),
	)

	out := *d
	return &out, nil
}

func (e *Engine) fire(d *Delivery) {
	defer e.wg.Done()

	e.mu.Lock()
	delete(e.pending, d.ID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.DeliveryTimeout)
	err := e.deliverer.Deliver(ctx, d.Recipient, d.Text)
	cancel()

	replyCtx, cancelReply := context.WithTimeout(context.Background(), e.opts.DeliveryTimeout)
	defer cancelReply()

	if err != nil {
		e.logger.Warn("delivery failed",
			zap.String("delivery_id", d.ID),
			zap.String("game", d.Game),
			zap.Error(err),
		)
		e.reply(replyCtx, d, ReplyFailed)
		return
	}

	e.logger.Info("message delivered",
		zap.String("delivery_id", d.ID),
		zap.String("game", d.Game),
	)
	e.reply(replyCtx, d, ReplySent)
}

func (e *Engine) reply(ctx context.Context, d *Delivery, text string) {
	if d.reply == nil {
		return
	}
	if err := d.reply.Reply(ctx, text); err != nil {
		e.logger.Warn("failed to notify sender",
			zap.String("delivery_id", d.ID),
			zap.Error(err),
		)
	}
}

// Pending returns the number of scheduled deliveries that have not fired.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close drops deliveries that have not fired yet and waits for running ones.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	dropped := 0
	for id, t := range e.pending {
		if t.Stop() {
			dropped++
			e.wg.Done()
		}
		delete(e.pending, id)
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.logger.Info("relay closed", zap.Int("dropped_deliveries", dropped))
}
