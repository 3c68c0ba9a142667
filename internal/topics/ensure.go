// v1
// internal/topics/ensure.go

// Package topics provisions the pipeline's Kafka topics and verifies their
// partition layout against the broker, so every service can assume the
// topics exist before it starts consuming.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/OnLog-System/onlog-pipeline/internal/config"
)

const adminTimeout = 10 * time.Second

// ForConfig lists the topic layouts the pipeline needs. The raw topics and
// the canonical topic carry keyed traffic and get the full partition count;
// the dead letter topic is low-volume and stays at one partition.
func ForConfig(cfg config.Config, partitions, replication int) []kafka.TopicConfig {
	spread := func(topic string) kafka.TopicConfig {
		return kafka.TopicConfig{Topic: topic, NumPartitions: partitions, ReplicationFactor: replication}
	}
	return []kafka.TopicConfig{
		spread(cfg.Topics.EnvRaw),
		spread(cfg.Topics.ScaleRaw),
		spread(cfg.Topics.MachineRaw),
		spread(cfg.Topics.Parsed),
		spread(cfg.Topics.KpiEvent),
		{Topic: cfg.Topics.ParseDLQ, NumPartitions: 1, ReplicationFactor: replication},
	}
}

// Ensure creates the given topics on the cluster controller and verifies
// each one ends up with the expected partition count. Existing topics are
// accepted but still verified.
func Ensure(ctx context.Context, brokers []string, configs []kafka.TopicConfig, log *slog.Logger) error {
	if len(brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	if log == nil {
		log = slog.Default()
	}

	dialCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)

	ctrlCtx, ctrlCancel := context.WithTimeout(ctx, adminTimeout)
	defer ctrlCancel()
	admin, err := kafka.DialContext(ctrlCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	defer admin.Close()
	if err := admin.SetDeadline(time.Now().Add(adminTimeout)); err != nil {
		log.Warn("topics_controller_deadline", slog.Any("err", err))
	}

	if err := admin.CreateTopics(configs...); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create topics: %w", err)
		}
		log.Info("topics_exist")
	} else {
		log.Info("topics_created", slog.Int("count", len(configs)))
	}

	for _, tc := range configs {
		count, err := readPartitions(admin, tc.Topic)
		if err != nil {
			return err
		}
		if count != tc.NumPartitions {
			return fmt.Errorf("topic %s has %d partitions; expected %d", tc.Topic, count, tc.NumPartitions)
		}
		log.Info("topic_ready",
			slog.String("topic", tc.Topic),
			slog.Int("partitions", count),
			slog.Int("replication", tc.ReplicationFactor),
		)
	}
	return nil
}

func readPartitions(conn *kafka.Conn, topic string) (int, error) {
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, fmt.Errorf("read partitions for %s: %w", topic, err)
	}
	seen := map[int]struct{}{}
	for _, part := range partitions {
		if part.Topic != topic {
			continue
		}
		seen[part.ID] = struct{}{}
	}
	return len(seen), nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Topic with this name already exists")
}
