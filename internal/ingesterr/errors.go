package ingesterr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrArchiveUnreadable = errors.New("archive unreadable")
	ErrMemberNotFound    = errors.New("member not found")
	ErrCorruptMember     = errors.New("corrupt member")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Kind values persisted alongside failed jobs.
const (
	KindArchiveUnreadable = "archive_unreadable"
	KindMemberNotFound    = "member_not_found"
	KindCorruptMember     = "corrupt_member"
	KindStoreUnavailable  = "store_unavailable"
	KindConsumer          = "consumer"
	KindUnknown           = "unknown"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker. The marker should be one of the exported
// sentinel errors above; nil falls back to ErrCorruptMember.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrCorruptMember
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf returns the persisted kind string for err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArchiveUnreadable):
		return KindArchiveUnreadable
	case errors.Is(err, ErrMemberNotFound):
		return KindMemberNotFound
	case errors.Is(err, ErrCorruptMember):
		return KindCorruptMember
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindUnknown
	}
}

// IsJobFailure reports whether err should fail the current job only, leaving
// the worker running.
func IsJobFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrStoreUnavailable)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "ingestion failure"
	}
	return strings.Join(parts, ": ")
}
