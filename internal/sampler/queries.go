package sampler

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/prometheus/common/model"
)

// ErrInvalidHost is returned for host identifiers that cannot be embedded in a label matcher
var ErrInvalidHost = errors.New("invalid host identifier")

// Memory gauges exported by node_exporter, in query order
const (
	memFree    = "node_memory_MemFree_bytes"
	memCached  = "node_memory_Cached_bytes"
	memBuffers = "node_memory_Buffers_bytes"
	memTotal   = "node_memory_MemTotal_bytes"
)

// host:port, hostnames, IPv4 and bracketed IPv6
var hostPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(:[0-9]{1,5})?$|^\[[0-9A-Fa-f:.]+\](:[0-9]{1,5})?$`)

// ValidateHost rejects identifiers that would break out of a PromQL label value
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return nil
}

// CPUCoreQuery returns the busy fraction of one core averaged over the range
func CPUCoreQuery(host string, core int, bucket time.Duration) string {
	return fmt.Sprintf(
		`avg without (mode,cpu) (1 - rate(node_cpu_seconds_total{cpu="%d", instance="%s", mode="idle"}[%s]))`,
		core, host, promRange(bucket))
}

// MemoryQuery returns the average of a memory gauge over the range
func MemoryQuery(metric, host string, bucket time.Duration) string {
	return fmt.Sprintf(`avg_over_time(%s{instance="%s"}[%s])`, metric, host, promRange(bucket))
}

// promRange formats a duration the way PromQL range selectors expect ("1h", "30m")
func promRange(d time.Duration) string {
	return model.Duration(d).String()
}
