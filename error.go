package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ossdev07/kafka-python/compress"
)

var (
	// ErrConsumerTimeout is returned by Next when the configured idle
	// timeout elapses with no message available. It signals the end of an
	// iteration pass, not a failure.
	ErrConsumerTimeout = errors.New("consumer iteration timeout")

	// ErrConsumerClosed is returned by operations invoked after Close.
	ErrConsumerClosed = errors.New("consumer closed")

	// ErrNotOwned is returned when an operation addresses a partition that
	// is not currently assigned to the consumer.
	ErrNotOwned = errors.New("partition not assigned to this consumer")

	// ErrRequestTimedOut is the class that RequestTimedOutError belongs to;
	// errors.Is(err, ErrRequestTimedOut) matches any transport timeout.
	ErrRequestTimedOut = errors.New("request timed out")
)

// OffsetOutOfRangeError reports a fetch offset outside the range of offsets
// the broker holds for a partition, either too old (expired) or past the end
// of the log.
type OffsetOutOfRangeError struct {
	Partition TopicPartition
	Offset    int64
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset %d out of range for partition %s", e.Offset, e.Partition)
}

// MessageTooLargeError is the transport-level signal that the next message
// in a partition is larger than the MaxBytes limit of the fetch request. The
// fetch manager consumes it to drive buffer growth; it reaches callers only
// wrapped in a FetchSizeTooSmallError once growth is exhausted.
type MessageTooLargeError struct {
	Partition TopicPartition
	Size      int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message of %d bytes on partition %s exceeds the fetch size", e.Size, e.Partition)
}

// FetchSizeTooSmallError reports that a message cannot be fetched because it
// is larger than the configured maximum fetch buffer size. The caller must
// raise MaxBufferSize or seek past the message.
type FetchSizeTooSmallError struct {
	Partition    TopicPartition
	BufferSize   int
	RequiredSize int
}

func (e *FetchSizeTooSmallError) Error() string {
	return fmt.Sprintf("fetch buffer of %d bytes too small for message of %d bytes on partition %s",
		e.BufferSize, e.RequiredSize, e.Partition)
}

// UnsupportedCodecError reports a fetched batch compressed with a codec that
// is not present in the consumer's codec table.
type UnsupportedCodecError struct {
	Codec compress.Compression
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("libraries for %s compression codec not found", e.Codec)
}

// UnsupportedVersionError reports that the broker does not support a
// protocol capability the operation requires.
type UnsupportedVersionError struct {
	API string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("broker does not support %s", e.API)
}

// InvalidArgumentError reports a caller error detected before any network
// call is made.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string { return e.Reason }

// CorruptMessageError reports a batch that failed decompression or checksum
// validation. The batch is discarded whole and the partition's offset is not
// advanced.
type CorruptMessageError struct {
	Partition TopicPartition
	Offset    int64
	Reason    string
}

func (e *CorruptMessageError) Error() string {
	return fmt.Sprintf("corrupt message at offset %d of partition %s: %s", e.Offset, e.Partition, e.Reason)
}

// OffsetResetRequiredError reports that a partition has no committed offset
// to resume from and the reset policy forbids picking one.
type OffsetResetRequiredError struct {
	Partition TopicPartition
}

func (e *OffsetResetRequiredError) Error() string {
	return fmt.Sprintf("no committed offset for partition %s and offset reset policy is fail", e.Partition)
}

// RequestTimedOutError reports that a single transport operation exceeded
// its deadline. Cursor state is left untouched.
type RequestTimedOutError struct {
	Operation string
}

func (e *RequestTimedOutError) Error() string {
	return fmt.Sprintf("%s request timed out", e.Operation)
}

func (e *RequestTimedOutError) Is(target error) bool { return target == ErrRequestTimedOut }

type errorList []error

func (errs errorList) Error() string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Error()
	default:
		s := make([]string, len(errs))
		for i, e := range errs {
			s[i] = e.Error()
		}
		return strings.Join(s, ": ")
	}
}

func appendError(to error, err error) error {
	if err == nil {
		return to
	}

	if to == nil {
		return err
	}

	if errlist, ok := to.(errorList); ok {
		return append(errlist, err)
	}

	return errorList{to, err}
}
