package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementLink is the measurement that holds telnet link counters.
const MeasurementLink = "grafikeye_link"

// LinkStats is one sample of the controller link counters.
//
// Only counters and the connection state are recorded; observed scenes are
// never written.
type LinkStats struct {
	State          string
	Connected      bool
	PollsSent      uint64
	StatusReplies  uint64
	PollMisses     uint64
	ScenesSelected uint64
	ParseMisses    uint64
	ReadFailures   uint64
	WriteFailures  uint64
	CallbackErrors uint64
}

// WriteLinkStats records a link counter sample for bridgeID.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteLinkStats(bridgeID string, stats LinkStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkStatsPoint(bridgeID, stats, time.Now()))
}

func linkStatsPoint(bridgeID string, stats LinkStats, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLink,
		map[string]string{
			"bridge_id": bridgeID,
			"state":     stats.State,
		},
		map[string]interface{}{
			"connected":       stats.Connected,
			"polls_sent":      stats.PollsSent,
			"status_replies":  stats.StatusReplies,
			"poll_misses":     stats.PollMisses,
			"parse_misses":    stats.ParseMisses,
			"read_failures":   stats.ReadFailures,
			"scenes_selected": stats.ScenesSelected,
			"write_failures":  stats.WriteFailures,
			"callback_errors": stats.CallbackErrors,
		},
		ts,
	)
}
