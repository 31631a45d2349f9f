package common

import "fmt"

// TopicPartition identifies one partition of a topic. It is the key for
// partition registries, purgatory watch lists, and checkpoint files.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func NewTopicPartition(topic string, partition int32) TopicPartition {
	return TopicPartition{Topic: topic, Partition: partition}
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}
