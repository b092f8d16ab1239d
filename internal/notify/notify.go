// Package notify delivers ticket notifications. Delivery is best-effort: it
// runs after the admission has committed and its failures are only logged.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/eventreg/internal/metrics"
)

// Ticket is everything a participant needs to hear about their admission.
type Ticket struct {
	TicketID           string     `json:"ticketId"`
	EventID            string     `json:"eventId"`
	EventName          string     `json:"eventName"`
	OrganizerName      string     `json:"organizerName"`
	ParticipantName    string     `json:"participantName"`
	ParticipantAddress string     `json:"participantAddress"`
	StartDate          *time.Time `json:"startDate,omitempty"`
	EndDate            *time.Time `json:"endDate,omitempty"`
	TeamName           string     `json:"teamName,omitempty"`
	TeamCode           string     `json:"teamCode,omitempty"`
}

// Dispatcher sends one notification.
type Dispatcher interface {
	Send(ctx context.Context, t Ticket) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, t Ticket) error

func (f DispatcherFunc) Send(ctx context.Context, t Ticket) error { return f(ctx, t) }

// ─── NATS ────────────────────────────────────────────────────────────────────

type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSDispatcher publishes each ticket as JSON on a subject. A mailer (or any
// other delivery worker) subscribes on the other side.
type NATSDispatcher struct {
	conn    publisher
	subject string
}

// NewNATSDispatcher publishes on subject through conn.
func NewNATSDispatcher(conn *nats.Conn, subject string) *NATSDispatcher {
	return &NATSDispatcher{conn: conn, subject: subject}
}

// Send publishes t. The ticket id doubles as the message id so a JetStream
// stream on the subject can deduplicate redeliveries.
func (d *NATSDispatcher) Send(ctx context.Context, t Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	msg := nats.NewMsg(d.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, t.TicketID)
	if err := d.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish ticket %s: %w", t.TicketID, err)
	}
	return nil
}

// Connect dials NATS and logs connection state changes.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("eventreg"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// LogDispatcher writes tickets to the log instead of delivering them.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(_ context.Context, t Ticket) error {
	d.logger.Info("ticket issued",
		"ticket_id", t.TicketID,
		"event", t.EventName,
		"organizer", t.OrganizerName,
		"to", t.ParticipantAddress,
	)
	return nil
}

// ─── Fan-out ─────────────────────────────────────────────────────────────────

// maxParallelSends caps concurrent sends for one batch.
const maxParallelSends = 5

// Notifier runs deliveries in the background with a per-batch timeout.
type Notifier struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	wg sync.WaitGroup
}

// NewNotifier constructs a Notifier. A non-positive timeout defaults to 5s.
func NewNotifier(d Dispatcher, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{dispatcher: d, timeout: timeout, logger: logger, metrics: m}
}

// Dispatch sends tickets in the background and returns immediately. The
// caller's cancellation does not reach the sends; only the timeout does.
func (n *Notifier) Dispatch(ctx context.Context, tickets ...Ticket) {
	if len(tickets) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(maxParallelSends)
		for _, t := range tickets {
			g.Go(func() error {
				err := n.dispatcher.Send(ctx, t)
				n.metrics.NotificationSent(err == nil)
				if err != nil {
					n.logger.Warn("ticket notification failed",
						"ticket_id", t.TicketID,
						"event_id", t.EventID,
						"error", err,
					)
				}
				return err
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until every background delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
