package kafka

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ossdev07/kafka-python/compress"
)

const (
	defaultFetchMaxBytes          = 52428800
	defaultMaxPartitionFetchBytes = 1048576
	defaultMaxPollRecords         = 500
	defaultAutoCommitInterval     = 5 * time.Second
	defaultRequestTimeout         = 30 * time.Second
	defaultRetryBackoff           = 100 * time.Millisecond
	defaultConsumerTimeout        = 100 * time.Millisecond
)

// ConsumerConfig carries the configuration of a Consumer. Only Transport is
// required, every other field has a working default.
type ConsumerConfig struct {
	// Transport performs broker I/O on behalf of the consumer.
	Transport Transport

	// GroupID namespaces committed offsets. Leaving it empty disables
	// commit persistence entirely: commits become no-ops and assignment
	// always falls back to the reset policy.
	GroupID string

	// ClientID identifies this consumer in logs. Defaults to a generated
	// "kafka-go-<uuid>" value.
	ClientID string

	// AutoOffsetReset selects the starting position when a partition has
	// no committed offset, and whether out-of-range fetch offsets recover
	// automatically. Defaults to ResetFail.
	AutoOffsetReset OffsetResetPolicy

	// EnableAutoCommit turns on the background commit scheduler.
	EnableAutoCommit bool

	// AutoCommitInterval is the elapsed-time trigger of the scheduler.
	// Defaults to 5s when auto-commit is enabled. Set to -1 to disable the
	// time trigger while keeping the count trigger.
	AutoCommitInterval time.Duration

	// AutoCommitEveryN fires a commit after that many messages have been
	// yielded since the last commit. 0 disables the count trigger.
	AutoCommitEveryN int

	// FetchMaxBytes bounds the total bytes buffered by one poll round
	// across all partitions. Defaults to 52428800.
	FetchMaxBytes int

	// MaxPartitionFetchBytes is the initial per-partition fetch buffer
	// size. Defaults to 1048576. The buffer grows past it when a single
	// message does not fit.
	MaxPartitionFetchBytes int

	// MaxBufferSize caps per-partition buffer growth. 0 means unbounded;
	// a message larger than a non-zero cap fails the fetch with
	// FetchSizeTooSmallError.
	MaxBufferSize int

	// MaxPollRecords bounds the number of messages one Poll call returns.
	// Defaults to 500.
	MaxPollRecords int

	// ConsumerTimeout is how long Next blocks waiting for a message before
	// returning ErrConsumerTimeout. Defaults to 100ms. Set to -1 to block
	// until the context is done.
	ConsumerTimeout time.Duration

	// RequestTimeout bounds each transport call. Defaults to 30s.
	RequestTimeout time.Duration

	// RetryBackoff is the pause between empty fetch rounds while a
	// blocking call waits for data, and the granularity at which
	// cancellation is observed. Defaults to 100ms.
	RetryBackoff time.Duration

	// Codecs restricts which compression codecs fetched batches may use.
	// Defaults to compress.DefaultCodecs(). A batch compressed with a
	// codec missing from this table fails with UnsupportedCodecError.
	Codecs []compress.Codec

	// Logger, when set, receives informational messages.
	Logger Logger

	// ErrorLogger receives errors that are handled internally, like failed
	// auto-commits. Defaults to Logger.
	ErrorLogger Logger
}

// Validate checks for configuration mistakes that would otherwise surface as
// confusing runtime behavior.
func (config *ConsumerConfig) Validate() error {
	if config.Transport == nil {
		return errors.New("cannot create a consumer with a nil transport")
	}
	if config.FetchMaxBytes < 0 {
		return errors.New("FetchMaxBytes cannot be negative")
	}
	if config.MaxPartitionFetchBytes < 0 {
		return errors.New("MaxPartitionFetchBytes cannot be negative")
	}
	if config.MaxBufferSize < 0 {
		return errors.New("MaxBufferSize cannot be negative")
	}
	if config.MaxBufferSize > 0 && config.MaxPartitionFetchBytes > config.MaxBufferSize {
		return errors.New("MaxPartitionFetchBytes cannot exceed MaxBufferSize")
	}
	if config.MaxPollRecords < 0 {
		return errors.New("MaxPollRecords cannot be negative")
	}
	if config.AutoCommitEveryN < 0 {
		return errors.New("AutoCommitEveryN cannot be negative")
	}
	return nil
}

func (config ConsumerConfig) withDefaults() ConsumerConfig {
	if config.ClientID == "" {
		config.ClientID = "kafka-go-" + uuid.NewString()
	}
	if config.FetchMaxBytes == 0 {
		config.FetchMaxBytes = defaultFetchMaxBytes
	}
	if config.MaxPartitionFetchBytes == 0 {
		config.MaxPartitionFetchBytes = defaultMaxPartitionFetchBytes
	}
	if config.MaxPollRecords == 0 {
		config.MaxPollRecords = defaultMaxPollRecords
	}
	if config.AutoCommitInterval == 0 {
		config.AutoCommitInterval = defaultAutoCommitInterval
	}
	if config.ConsumerTimeout == 0 {
		config.ConsumerTimeout = defaultConsumerTimeout
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.Codecs == nil {
		config.Codecs = compress.DefaultCodecs()
	}
	if config.ErrorLogger == nil {
		config.ErrorLogger = config.Logger
	}
	return config
}
