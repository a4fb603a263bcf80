package services

import "strings"

// nonRetryableFragments catches processor failures that were not classified
// with a marker but still describe a permanent condition.
var nonRetryableFragments = []string{
	"invalid youtube url",
	"invalid url",
	"unsupported url",
	"unsupported format",
	"resource exceeded",
	"file is larger than max-filesize",
	"video unavailable",
	"private video",
	"this video has been removed",
	"sign in to confirm your age",
	"members-only content",
}

// RetryableKind reports whether a failure with the given kind and message may
// be attempted again. Structured kinds decide first; the message denylist is
// consulted for everything the kind does not rule out.
func RetryableKind(kind ErrorKind, message string) bool {
	switch kind {
	case ErrorKindValidation, ErrorKindUnsupported, ErrorKindResourceExceeded,
		ErrorKindConfiguration, ErrorKindNotFound, ErrorKindCanceled:
		return false
	}
	return !matchesDenylist(message)
}

// Retryable classifies err and applies RetryableKind.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return RetryableKind(KindOf(err), err.Error())
}

func matchesDenylist(message string) bool {
	lowered := strings.ToLower(message)
	if strings.TrimSpace(lowered) == "" {
		return false
	}
	for _, fragment := range nonRetryableFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}
