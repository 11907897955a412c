package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	mylog "github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

// Runner consumes store commands and applies them to the stores handed out
// by its resolver.
type Runner struct {
	log      *slog.Logger
	cfg      RunnerConfig
	stores   store.Resolver
	ms       *metricSet
	seen     *idDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// resetter is implemented by resolvers that cache per-session state.
type resetter interface {
	Reset()
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func NewRunner(cfg RunnerConfig, stores store.Resolver, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		stores: stores,
		ms:     newMetricSet(opts.Register),
		seen:   newIDDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.stores == nil {
		return errors.New("bus runner: store resolver is required")
	}
	if len(r.cfg.Brokers) == 0 || r.cfg.Topic == "" || r.cfg.GroupID == "" {
		return errors.New("bus runner: brokers, topic and group id are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := r.handler()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("store command runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			// partitions may have been owned elsewhere since the last generation
			if rs, ok := r.stores.(resetter); ok {
				rs.Reset()
			}
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("store command runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one command. Undecodable commands and store failures
// are logged and skipped so one bad message cannot stall its partition; only
// a cancelled context is returned.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var c Command
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		r.log.Warn("undecodable store command", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := c.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		r.log.Warn("invalid store command", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if !r.seen.firstSeen(c.ID.String()) {
		r.ms.msgs.WithLabelValues("duplicate").Inc()
		return nil
	}

	ctx = mylog.WithSessionID(ctx, c.Session)
	ctx = mylog.WithRequestID(ctx, c.ID.String())
	err := Apply(ctx, r.stores.For(c.Session), c)
	r.ms.proc.WithLabelValues(c.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		r.ms.msgs.WithLabelValues("ok").Inc()
	case ctx.Err() != nil:
		// left unmarked; Kafka redelivers it
		r.seen.forget(c.ID.String())
		return ctx.Err()
	default:
		r.ms.msgs.WithLabelValues("failed").Inc()
		r.log.Warn("store command failed", "command", c.Name, "session_id", c.Session, "err", err)
	}
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
