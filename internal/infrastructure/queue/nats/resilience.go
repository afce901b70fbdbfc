package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

// transientNATSErrors clear once the client reconnects.
var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}
	for _, transient := range transientNATSErrors {
		if errors.Is(err, transient) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func publishError(err error) error {
	return resilience.MarkTemporary("nats reload publish", err, classifyNATSError)
}
