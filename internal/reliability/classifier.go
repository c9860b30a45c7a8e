package reliability

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// IsPermissionStatus reports statuses that mean "your plan/key may not do this".
func IsPermissionStatus(code int) bool {
	switch code {
	case 401, 402, 403:
		return true
	default:
		return false
	}
}

var permissionMarkers = []string{
	"missing_permissions",
	"missing permissions",
	"insufficient_permissions",
	"invalid_api_key",
	"payment_required",
	"voice_not_allowed",
	"not allowed to use",
	"upgrade your plan",
	"plan does not",
}

// statusToken matches an explicit HTTP status in provider error text, such as
// `status 401` or `HTTP status "403 Forbidden"`. Bare digits elsewhere in the
// message (voice ids, byte counts) never count.
var statusToken = regexp.MustCompile(`(?i)\bstatus\W{0,3}(\d{3})\b`)

// StatusFromText extracts the HTTP status named in err text, or 0.
func StatusFromText(msg string) int {
	m := statusToken.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// IsPermissionDetail reports whether a provider status or message token names an
// entitlement problem.
func IsPermissionDetail(detail string) bool {
	detail = strings.ToLower(detail)
	if detail == "" {
		return false
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

// IsPermissionRejection reports whether err is a provider refusing the request on
// entitlement grounds (key scope, plan tier, voice library access) rather than a
// transport or synthesis failure. Typed errors decide for themselves.
func IsPermissionRejection(err error) bool {
	if err == nil {
		return false
	}
	var pe interface{ PermissionDenied() bool }
	if errors.As(err, &pe) {
		return pe.PermissionDenied()
	}
	msg := err.Error()
	return IsPermissionStatus(StatusFromText(msg)) || IsPermissionDetail(msg)
}
