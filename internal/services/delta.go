package services

import (
	"sort"
	"strings"
	"time"

	"github.com/tbourn/go-case-sync/internal/support"
)

// Echo marker carried by communications that originated in chat and were
// mirrored into the ticket. Such replies were already seen in the channel
// and must never be mirrored back, or the bridge would loop.
const (
	echoPrefix = "[From "
	echoSuffix = "via chat]"
)

// isEchoBody reports whether body carries the internal echo marker.
func isEchoBody(body string) bool {
	return strings.HasPrefix(body, echoPrefix) && strings.Contains(body, echoSuffix)
}

// commDelta is the result of a delta computation: the communications to
// deliver, oldest first, and the maximum communication timestamp seen. The
// watermark candidate includes echo-marked replies so they are not
// re-examined on the next pass even though they are never delivered.
type commDelta struct {
	deliver      []support.Communication
	maxTimestamp string
}

// computeCommDelta selects the communications strictly newer than the
// case's watermark. An absent or unparsable watermark falls back to a fixed
// look-back window ending at now rather than failing the computation.
// Communications with missing or unparsable timestamps are skipped.
func computeCommDelta(comms []support.Communication, watermark string, now time.Time, lookback time.Duration) commDelta {
	threshold, ok := parseWireTime(watermark)
	if !ok {
		threshold = now.Add(-lookback)
	}

	var d commDelta
	for _, comm := range comms {
		t, ok := parseWireTime(comm.TimeCreated)
		if !ok {
			continue
		}
		if !t.After(threshold) {
			continue
		}
		if d.maxTimestamp == "" || comm.TimeCreated > d.maxTimestamp {
			d.maxTimestamp = comm.TimeCreated
		}
		if isEchoBody(comm.Body) {
			continue
		}
		d.deliver = append(d.deliver, comm)
	}

	sort.SliceStable(d.deliver, func(i, j int) bool {
		return d.deliver[i].TimeCreated < d.deliver[j].TimeCreated
	})
	return d
}

// parseWireTime parses an RFC 3339 timestamp as used on the wire and in the
// watermark field.
func parseWireTime(s string) (time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
