package queue

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/chat-realtime/internal/metrics"
    "github.com/iliyamo/chat-realtime/internal/service"
)

const (
    defaultActivityBuffer = 256
    defaultPublishTimeout = 5 * time.Second
)

// Publisher sends room activity to RabbitMQ.  It implements
// service.ActivityRecorder: records are queued on a bounded buffer drained
// by a single worker, and a record that does not fit is dropped, so a
// broker outage cannot slow down or fail a join.
type Publisher struct {
    url     string
    timeout time.Duration

    queue     chan RoomActivityEvent
    stop      chan struct{}
    done      chan struct{}
    closeOnce sync.Once

    // owned by the worker
    conn *amqp.Connection
    ch   *amqp.Channel

    log zerolog.Logger
}

func NewPublisher(url string) *Publisher {
    return newPublisher(url, defaultActivityBuffer, defaultPublishTimeout)
}

func newPublisher(url string, buffer int, timeout time.Duration) *Publisher {
    p := &Publisher{
        url:     url,
        timeout: timeout,
        queue:   make(chan RoomActivityEvent, buffer),
        stop:    make(chan struct{}),
        done:    make(chan struct{}),
        log:     log.With().Str("module", "queue.publisher").Logger(),
    }
    go p.run()
    return p
}

// Record implements service.ActivityRecorder.  It never blocks.
func (p *Publisher) Record(_ context.Context, a service.Activity) {
    ev := eventFrom(a)
    select {
    case <-p.stop:
        p.drop(ev, "publisher closed")
        return
    default:
    }
    select {
    case p.queue <- ev:
    default:
        p.drop(ev, "activity buffer full")
    }
}

func (p *Publisher) drop(ev RoomActivityEvent, why string) {
    metrics.ActivityDropped.Inc()
    p.log.Warn().Str("kind", ev.Kind).Uint64("room_id", ev.RoomID).Msg(why + ", dropping activity")
}

func (p *Publisher) run() {
    defer close(p.done)
    defer p.reset()
    for {
        select {
        case <-p.stop:
            p.flush()
            return
        case ev := <-p.queue:
            _ = p.send(ev)
        }
    }
}

// flush publishes what is still buffered.  After the first failure the
// rest is dropped rather than dialing once per record.
func (p *Publisher) flush() {
    for {
        select {
        case ev := <-p.queue:
            if err := p.send(ev); err != nil {
                for {
                    select {
                    case ev := <-p.queue:
                        p.drop(ev, "broker unreachable on shutdown")
                    default:
                        return
                    }
                }
            }
        default:
            return
        }
    }
}

func (p *Publisher) send(ev RoomActivityEvent) error {
    ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
    defer cancel()
    err := p.publish(ctx, ev)
    if err != nil {
        p.log.Warn().Err(err).Str("kind", ev.Kind).Uint64("room_id", ev.RoomID).Msg("activity publish failed")
    }
    return err
}

func (p *Publisher) publish(ctx context.Context, ev RoomActivityEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }
    ch, err := p.channel()
    if err != nil {
        return err
    }
    err = ch.PublishWithContext(ctx,
        "",                // default exchange
        ActivityQueueName, // routing key = queue name
        false,             // mandatory
        false,             // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            Timestamp:    time.Now().UTC(),
            Body:         body,
        })
    if err != nil {
        p.reset()
    }
    return err
}

// channel returns an open channel, dialing on first use or after a
// failure.  The dial and the AMQP handshake are bounded by p.timeout.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(p.timeout),
    })
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    if _, err := ch.QueueDeclare(ActivityQueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}

// Close stops the worker after it flushed the buffer, waiting at most
// twice the publish timeout.  Records arriving afterwards are dropped.
func (p *Publisher) Close() {
    p.closeOnce.Do(func() { close(p.stop) })
    select {
    case <-p.done:
    case <-time.After(2 * p.timeout):
        p.log.Warn().Int("pending", len(p.queue)).Msg("activity publisher did not stop in time")
    }
}
