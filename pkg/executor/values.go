package executor

import (
	"maps"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

func copyConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	maps.Copy(out, config)

	return out
}

func copyResult(result models.Result) models.Result {
	out := make(models.Result, len(result))
	maps.Copy(out, result)

	return out
}

// intValue reads a config number decoded from JSON or set in Go.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// seconds reads a config number of seconds.
func seconds(v any) time.Duration {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	case float64:
		return time.Duration(n * float64(time.Second))
	default:
		return 0
	}
}
