package kafka

import "github.com/IBM/sarama"

// pinned is carried in ProducerMessage.Metadata to bypass key hashing.
type pinned int32

type partitioner struct {
	hash sarama.Partitioner
}

// NewPartitioner hashes message keys like sarama's default partitioner,
// except for messages sent with Producer.SendTo, which go to the partition
// they were pinned to.
func NewPartitioner(topic string) sarama.Partitioner {
	return &partitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *partitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if pin, ok := msg.Metadata.(pinned); ok {
		if int32(pin) < 0 || int32(pin) >= numPartitions {
			return -1, sarama.ErrInvalidPartition
		}
		return int32(pin), nil
	}
	return p.hash.Partition(msg, numPartitions)
}

func (p *partitioner) RequiresConsistency() bool {
	return true
}
