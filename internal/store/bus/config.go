package bus

import (
	"time"

	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
)

type RunnerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
	DedupeSize       int
}

func RunnerConfigFrom(c config.Config) RunnerConfig {
	return RunnerConfig{
		Brokers:          config.SplitList(c.Kafka.Brokers),
		Topic:            c.Kafka.Topic,
		GroupID:          c.Kafka.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    false,
		DedupeSize:       c.DedupeEntries,
	}
}
