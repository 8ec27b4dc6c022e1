// Package siphon implements the siphon loop (C5): the single-owner Kafka
// consumer that polls the ALS topic and JSON-log side-channel topics,
// dispatches to the bundle assembler and table updater, advances commit
// watermarks, and reports progress (spec §4.5).
//
// Grounded on gollum's consumer.Kafka (consumer/kafka.go): one
// sarama.PartitionConsumer goroutine per partition feeding a shared
// channel, subscription recomputed periodically, offsets tracked per
// partition. Gollum persists offsets to a local index file (OffsetFile);
// this port commits them to Kafka itself via sarama.OffsetManager
// instead, since multiple siphon processes sharing one group id is a
// real deployment shape this repo needs to support.
package siphon

import (
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
)

// record is one raw Kafka message read off any partition consumer's
// channel, tagged with its position and bundling key (spec §4.5
// poll_result, §6.1 "Record key is a bundling identifier").
type record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// kafkaSource owns the sarama client/consumer/offset-manager triple and
// the set of partition consumers currently subscribed, grounded on
// gollum's Kafka.startConsumers/readFromPartition split.
type kafkaSource struct {
	client    sarama.Client
	consumer  sarama.Consumer
	offsetMgr sarama.OffsetManager

	records chan record

	mu         sync.Mutex
	subscribed map[topicPartition]sarama.PartitionConsumer
	partOffMgr map[topicPartition]sarama.PartitionOffsetManager
}

type topicPartition struct {
	topic     string
	partition int32
}

func newKafkaSource(brokers []string, groupID string) (*kafkaSource, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V1_0_0_0

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("siphon: kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("siphon: kafka consumer: %w", err)
	}
	offsetMgr, err := sarama.NewOffsetManagerFromClient(groupID, client)
	if err != nil {
		consumer.Close()
		client.Close()
		return nil, fmt.Errorf("siphon: kafka offset manager: %w", err)
	}

	return &kafkaSource{
		client:     client,
		consumer:   consumer,
		offsetMgr:  offsetMgr,
		records:    make(chan record, 4096),
		subscribed: make(map[topicPartition]sarama.PartitionConsumer),
		partOffMgr: make(map[topicPartition]sarama.PartitionOffsetManager),
	}, nil
}

// topics lists every topic currently visible on the cluster, refreshing
// client metadata first so newly-created topics are picked up (spec §4.5
// "subscription is recomputed periodically").
func (k *kafkaSource) topics() ([]string, error) {
	if err := k.client.RefreshMetadata(); err != nil {
		return nil, err
	}
	return k.client.Topics()
}

// ensureSubscribed starts a partition-consumer goroutine for every
// partition of topic not already subscribed, resuming from the next
// uncommitted offset per the topic's offset-manager entry.
func (k *kafkaSource) ensureSubscribed(topic string) error {
	partitions, err := k.client.Partitions(topic)
	if err != nil {
		return fmt.Errorf("siphon: partitions for %q: %w", topic, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, partition := range partitions {
		tp := topicPartition{topic, partition}
		if _, ok := k.subscribed[tp]; ok {
			continue
		}

		pom, err := k.offsetMgr.ManagePartition(topic, partition)
		if err != nil {
			return fmt.Errorf("siphon: manage offset %s/%d: %w", topic, partition, err)
		}
		next, _ := pom.NextOffset()
		if next < 0 {
			next = sarama.OffsetOldest
		}

		pc, err := k.consumer.ConsumePartition(topic, partition, next)
		if err != nil {
			pom.Close()
			return fmt.Errorf("siphon: consume %s/%d: %w", topic, partition, err)
		}

		k.subscribed[tp] = pc
		k.partOffMgr[tp] = pom
		go k.drainPartition(topic, partition, pc)
	}
	return nil
}

// drainPartition forwards a single partition consumer's messages onto the
// shared records channel until it is closed, matching gollum's
// readFromPartition's select-on-Messages()/Errors() shape.
func (k *kafkaSource) drainPartition(topic string, partition int32, pc sarama.PartitionConsumer) {
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			k.records <- record{
				Topic:     topic,
				Partition: partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
			}
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			if err != nil {
				// Errors are not forwarded onto the shared channel, as a
				// zero-value record isn't useful and the siphon loop has
				// no per-message error channel; with Return.Errors set,
				// sarama hands them only to this channel, so they are
				// dropped here unreported. Draining simply continues.
			}
		}
	}
}

// commit marks offset (the next offset to read, i.e. watermark+1) for
// topic/partition as committed to the Kafka-stored consumer group offset,
// implementing "kafka.commit(tracker.drain_commits())" (spec §4.5).
func (k *kafkaSource) commit(topic string, partition int32, watermark int64) {
	k.mu.Lock()
	pom, ok := k.partOffMgr[topicPartition{topic, partition}]
	k.mu.Unlock()
	if !ok {
		return
	}
	pom.MarkOffset(watermark+1, "")
}

// close tears down every partition consumer and the underlying client.
func (k *kafkaSource) close() {
	k.mu.Lock()
	for _, pc := range k.subscribed {
		pc.AsyncClose()
	}
	for _, pom := range k.partOffMgr {
		pom.Close()
	}
	k.mu.Unlock()

	k.offsetMgr.Close()
	k.consumer.Close()
	k.client.Close()
}
