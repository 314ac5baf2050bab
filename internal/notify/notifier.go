// Package notify implements an optional, config-gated, off-hot-path
// publisher that announces completed candles over Redis pub/sub. It is
// never on the aggregator's fold path: Notify is a non-blocking channel
// send, and a full buffer just drops and logs rather than back-pressuring
// the caller.
//
// Grounded on the teacher's internal/publisher/redis.go (RedisPublisher's
// throttle-then-publish shape) and internal/analytics/redis_publish_confirmer.go
// (a dedicated background worker draining a bounded channel of outgoing
// messages), adapted from "every event" to "every completed candle", and
// transports over pkg/redis.Client rather than a bare go-redis client so
// shutdown can drain its backlog with one pipelined PublishBatch call.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"candlecore/internal/candle"
	"candlecore/internal/store"
	pkgredis "candlecore/pkg/redis"
)

// completionMessage is the wire shape published to Redis — deliberately
// small and self-describing, unlike the store's fixed binary encoding.
type completionMessage struct {
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	WindowStart int64   `json:"window_start_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      int64   `json:"volume"`
}

func (m completionMessage) GetSymbol() string    { return m.Symbol }
func (m completionMessage) GetEventType() string { return "candle_completed" }

type outgoing struct {
	channel string
	msg     completionMessage
}

// Notifier publishes one message per completed candle to a Redis channel
// named "<channelPrefix>:<symbol>:<interval>".
type Notifier struct {
	client        *pkgredis.Client
	log           *zap.Logger
	channelPrefix string

	queue chan outgoing

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	maxPerSecond int
	sentThisSec  int
	secWindow    time.Time
	throttleMu   sync.Mutex
}

// New starts a Notifier with a bounded backlog of `bufferSize` pending
// candles. maxPerSecond caps outbound publish rate; 0 means unbounded.
func New(client *pkgredis.Client, log *zap.Logger, channelPrefix string, bufferSize, maxPerSecond int) *Notifier {
	n := &Notifier{
		client:        client,
		log:           log,
		channelPrefix: channelPrefix,
		queue:         make(chan outgoing, bufferSize),
		done:          make(chan struct{}),
		maxPerSecond:  maxPerSecond,
		secWindow:     time.Now(),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Notify enqueues a completed candle for publication. Non-blocking: if the
// backlog is full, the candle is dropped and logged rather than stalling
// the aggregator's rotation path.
func (n *Notifier) Notify(k store.Key, c candle.Candle) {
	item := outgoing{
		channel: pkgredis.BuildChannelName(n.channelPrefix, k.Symbol, k.Interval.Name()),
		msg: completionMessage{
			Symbol:      k.Symbol,
			Interval:    k.Interval.Name(),
			WindowStart: k.WindowStart,
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
		},
	}
	select {
	case n.queue <- item:
	default:
		n.log.Warn("notify: backlog full, dropping candle completion", zap.String("key", k.String()))
	}
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			n.drainRemaining()
			return
		case item, ok := <-n.queue:
			if !ok {
				return
			}
			n.publish(item)
		}
	}
}

// drainRemaining flushes whatever is left in the backlog as a single
// pipelined batch rather than one publish per pending candle, since shutdown
// is the one place queue depth can spike all at once.
func (n *Notifier) drainRemaining() {
	byChannel := make(map[string][]pkgredis.Event)
	for {
		select {
		case item := <-n.queue:
			byChannel[item.channel] = append(byChannel[item.channel], item.msg)
		default:
			if len(byChannel) == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := n.client.PublishBatch(ctx, byChannel); err != nil {
				n.log.Warn("notify: drain batch publish failed", zap.Error(err))
			}
			cancel()
			return
		}
	}
}

func (n *Notifier) publish(item outgoing) {
	if !n.allowedByThrottle() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.client.Publish(ctx, item.channel, item.msg); err != nil {
		n.log.Warn("notify: publish failed", zap.String("channel", item.channel), zap.Error(err))
	}
}

func (n *Notifier) allowedByThrottle() bool {
	if n.maxPerSecond <= 0 {
		return true
	}
	n.throttleMu.Lock()
	defer n.throttleMu.Unlock()

	now := time.Now()
	if now.Sub(n.secWindow) >= time.Second {
		n.secWindow = now
		n.sentThisSec = 0
	}
	if n.sentThisSec >= n.maxPerSecond {
		return false
	}
	n.sentThisSec++
	return true
}

// Close signals the background loop to drain its backlog, stops it, and
// closes the underlying Redis connection.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.done) })
	n.wg.Wait()
	if err := n.client.Close(); err != nil {
		n.log.Warn("notify: close redis client failed", zap.Error(err))
	}
}
