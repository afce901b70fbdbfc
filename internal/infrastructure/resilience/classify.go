package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

var (
	retryAndRecord = ErrorClassification{Retryable: true, RecordFailure: true}
	failFast       = ErrorClassification{Retryable: false, RecordFailure: true}
	ignore         = ErrorClassification{}
)

// ClassifyTransport settles the outcomes shared by every network dependency:
// caller cancellation, open breakers and network failures. ok is false when
// the error needs a dependency specific decision.
func ClassifyTransport(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return ignore, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ignore, true
	case IsCircuitOpen(err):
		return retryAndRecord, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retryAndRecord, true
	}
	return ErrorClassification{}, false
}

// ClassifyStatus classifies an HTTP status returned by a dependency.
// 408, 429 and 5xx gateway failures are retried, other 5xx trip the
// breaker without a retry and 4xx fail fast without counting against it.
func ClassifyStatus(code int) ErrorClassification {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return retryAndRecord
	}
	if code >= 500 {
		return failFast
	}
	return ignore
}

// MarkTemporary tags err with domain.ErrTemporary when classifier would
// retry it, so callers can tell outages from bad requests.
func MarkTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	if IsCircuitOpen(err) || classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
