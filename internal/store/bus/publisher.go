package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

var (
	ErrQueueFull = errors.New("command queue full")
	ErrClosed    = errors.New("publisher closed")
)

// Publisher forwards store commands to Kafka. Enqueueing never blocks the
// request path; delivery failures are logged.
type Publisher struct {
	topic   string
	log     *slog.Logger
	prod    sarama.AsyncProducer
	cmds    chan Command
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, log), nil
}

func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     log,
		prod:    prod,
		cmds:    make(chan Command, queueSize),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for c := range p.cmds {
			b, err := json.Marshal(c)
			if err != nil {
				p.log.Error("bus: marshal command", "command", c.Name, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic:     p.topic,
				Key:       sarama.StringEncoder(c.Session),
				Value:     sarama.ByteEncoder(b),
				Timestamp: c.TS,
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Error("bus: producer error", "err", err)
			}
		}
	}()

	return p
}

// Enqueue queues c for delivery.
func (p *Publisher) Enqueue(c Command) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.cmds <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// For returns a Store that publishes commands for sessionID.
func (p *Publisher) For(sessionID string) store.Store {
	return &sessionPublisher{p: p, session: sessionID}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.cmds)
	p.mu.Unlock()
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("bus: close producer: %w", err)
	}
	return nil
}

type sessionPublisher struct {
	p       *Publisher
	session string
}

var _ store.Store = (*sessionPublisher)(nil)

func (s *sessionPublisher) send(name string, payload any) error {
	c, err := NewCommand(s.session, name, payload)
	if err == nil {
		err = s.p.Enqueue(c)
	}
	observability.IncStoreCommand(name, err)
	return err
}

func (s *sessionPublisher) LoadImage(_ context.Context, req model.ImageRequest) error {
	return s.send(store.CmdLoadImage, req)
}

func (s *sessionPublisher) LoadImageByID(_ context.Context, itemID string) error {
	return s.send(store.CmdLoadImageByID, itemID)
}

func (s *sessionPublisher) Classify(_ context.Context, req model.ImageRequest) error {
	return s.send(store.CmdClassify, req)
}

func (s *sessionPublisher) ObjectDetection(_ context.Context, req model.ImageRequest) error {
	return s.send(store.CmdObjectDetection, req)
}

func (s *sessionPublisher) MapSource(_ context.Context, sel model.MapSourceSelection) error {
	return s.send(store.CmdMapSource, sel)
}

func (s *sessionPublisher) DataSource(_ context.Context, source string) error {
	return s.send(store.CmdDataSource, source)
}

func (s *sessionPublisher) DetectionType(_ context.Context, detectionType string) error {
	return s.send(store.CmdDetectionType, detectionType)
}

func (s *sessionPublisher) BingTreeDetection(_ context.Context, img model.EncodedImage) error {
	return s.send(store.CmdBingTreeDetection, img)
}

func (s *sessionPublisher) BingObjectDetection(_ context.Context, img model.EncodedImage) error {
	return s.send(store.CmdBingObjectDetection, img)
}

func (s *sessionPublisher) LoadImageSTAC(_ context.Context, itemID string) error {
	return s.send(store.CmdLoadImageSTAC, itemID)
}
