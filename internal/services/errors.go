package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: connection resets,
	// timeouts, and retry-set HTTP statuses.
	ErrTransient = errors.New("transient failure")
	// ErrValidation marks malformed inputs or payloads; retrying cannot help.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks startup-fatal misconfiguration such as a missing
	// API token or extraction binary.
	ErrConfiguration = errors.New("configuration error")
	// ErrExternalTool marks failures of the ffmpeg/ffprobe collaborators.
	ErrExternalTool = errors.New("external tool error")
	// ErrDiskSpace marks refusals caused by the free-space floor.
	ErrDiskSpace = errors.New("insufficient disk space")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the error carries the transient marker.
// Exhausted retry budgets strip the marker, so an error that was once
// retryable classifies as permanent after escalation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether the error should abort the whole run rather than a
// single job.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Escalate strips retryability from a transient error once the retry budget
// is exhausted, preserving the original message.
func Escalate(err error) error {
	if err == nil {
		return nil
	}
	if !IsRetryable(err) {
		return err
	}
	// Deliberately not %w: the transient marker must not survive escalation.
	return fmt.Errorf("retries exhausted: %s", err.Error())
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
