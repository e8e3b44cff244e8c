package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

const redacted = "[redacted]"

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// enumerations whose values are normalized; unknown values are dropped
// unless keepUnknown is set.
var enums = map[string]struct {
	values      map[string]struct{}
	keepUnknown bool
}{
	"status":  {values: set("ok", "fail", "skip", "retry", "rate_limited", "cancelled", "conflict"), keepUnknown: true},
	"cache":   {values: set("hit", "miss")},
	"outcome": {values: set("ok", "fail", "cancelled", "ignored", "rejected")},
}

// secretMarkers flag attribute keys whose values never reach a sink.
var secretMarkers = []string{"token", "secret", "signature", "password", "private_key"}

// keys that contain a marker but carry non-sensitive data.
var secretAllowlist = map[string]struct{}{
	"token_valid":   {},
	"token_present": {},
	"token_age_ms":  {},
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if _, ok := secretAllowlist[k]; ok {
		return false
	}
	for _, m := range secretMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"msg_id",
	"user_id",
	"chat_id",
	"handler",
	"event_type",
	"state_from",
	"state_to",
	"outcome",
	"duration_ms",
	"cache",
	"key",
	"lang",
	"queue",
	"count",
	"failed",
	"receive_count",
	"signer",
	"provider",
	"name",
	"username",
	"listen",
	"path",
	"http_code",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempt",
	"attempts",
	"backoff_ms",
}
