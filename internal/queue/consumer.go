package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog/log"
)

// ActivityLogFile is the audit log written by the consumer under its log
// directory.
const ActivityLogFile = "room_activity.log"

// StartActivityConsumer consumes the room.activity queue and appends one
// line per event to logDir/room_activity.log.  It reconnects with capped
// exponential backoff and returns only when ctx is cancelled.
func StartActivityConsumer(ctx context.Context, url, logDir string) error {
    logger := log.With().Str("module", "queue.consumer").Logger()
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            logger.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, logDir)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        logger.Warn().Err(err).Msg("consume loop ended; reconnecting")
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    select {
    case <-ctx.Done():
        return false
    case <-time.After(d):
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logDir string) error {
    logger := log.With().Str("module", "queue.consumer").Logger()
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        logger.Warn().Err(err).Msg("set QoS failed")
    }
    if _, err := ch.QueueDeclare(ActivityQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(ActivityQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    logger.Info().Str("queue", ActivityQueueName).Msg("consuming")

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleMessage(logDir, d.Body); err != nil {
                logger.Error().Err(err).Msg("handle message failed")
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(logDir string, body []byte) error {
    var ev RoomActivityEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if err := os.MkdirAll(logDir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(logDir, ActivityLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(formatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatLine(ev RoomActivityEvent) string {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | user_id=%d", ev.OccurredAt, ev.Kind, ev.UserID)
    if ev.RoomID != 0 {
        fmt.Fprintf(&b, " | room_id=%d", ev.RoomID)
    }
    if ev.RoomCode != "" {
        fmt.Fprintf(&b, " | room=%q", ev.RoomCode)
    }
    if ev.SessionID != 0 {
        fmt.Fprintf(&b, " | session_id=%d", ev.SessionID)
    }
    if ev.DeviceID != "" {
        fmt.Fprintf(&b, " | device=%q", ev.DeviceID)
    }
    if ev.IPAddress != "" {
        fmt.Fprintf(&b, " | ip=%s", ev.IPAddress)
    }
    if ev.Cause != "" {
        fmt.Fprintf(&b, " | cause=%s", ev.Cause)
    }
    b.WriteByte('\n')
    return b.String()
}
