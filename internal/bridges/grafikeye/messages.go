package grafikeye

import (
	"fmt"
	"strconv"
	"time"
)

// MQTT message types exchanged between automation clients and the bridge.

// CommandMessage asks the bridge to act on one or more control units.
// Topic: grafikeye/command/{unit}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	// The bridge generates one if it is empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Command is the command name. Only "select_scene" is supported.
	Command string `json:"command"`

	// Scene is a configured scene name or a raw scene code.
	Scene string `json:"scene"`

	// ControlUnits overrides the unit in the topic. Order is preserved on
	// the wire and duplicates are kept.
	ControlUnits []int `json:"control_units,omitempty"`

	// Source indicates where the command originated (e.g. "ui", "automation").
	Source string `json:"source,omitempty"`
}

// Command names.
const (
	CommandSelectScene = "select_scene"
)

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the link.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: grafikeye/ack/{unit}
type AckMessage struct {
	CommandID    string    `json:"command_id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       AckStatus `json:"status"`
	Scene        string    `json:"scene,omitempty"`
	ControlUnits []int     `json:"control_units,omitempty"`
	Error        *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// StateMessage reports the scene of one control unit.
// Topic: grafikeye/state/{unit}
// QoS: 1, Retained: Yes
type StateMessage struct {
	ControlUnit int       `json:"control_unit"`
	Name        string    `json:"name"`
	Scene       string    `json:"scene"`
	SceneName   string    `json:"scene_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Source is "poll" for observed scenes and "command" for scenes the
	// bridge selected itself.
	Source string `json:"source"`
}

// State sources.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the link is Ready and MQTT is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the link is down.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge and link status.
// Topic: grafikeye/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *LinkStatistics   `json:"statistics,omitempty"`
	ControlUnits  int               `json:"control_units"`
	Reason        string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the telnet link.
type ConnectionStatus struct {
	// Status is the controller ConnectionState as a string.
	Status         string     `json:"status"`
	Address        string     `json:"address"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// LinkStatistics contains link counters.
type LinkStatistics struct {
	PollsSent      uint64 `json:"polls_sent"`
	StatusReplies  uint64 `json:"status_replies"`
	PollMisses     uint64 `json:"poll_misses"`
	ParseMisses    uint64 `json:"parse_misses"`
	ScenesSelected uint64 `json:"scenes_selected"`
	WriteFailures  uint64 `json:"write_failures"`
	ReadFailures   uint64 `json:"read_failures"`
	CallbackPanics uint64 `json:"callback_panics"`
	Reconnects     uint64 `json:"reconnects"`
}

// RequestMessage asks the bridge for information.
// Topic: grafikeye/request/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Action is "read_state" or "status".
	Action string `json:"action"`

	// ControlUnit limits read_state to one unit. Zero means all.
	ControlUnit int `json:"control_unit,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionStatus    = "status"
)

// ResponseMessage answers a request.
// Topic: grafikeye/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnitState is one entry of a read_state response.
type UnitState struct {
	ControlUnit int    `json:"control_unit"`
	Name        string `json:"name"`
	Scene       string `json:"scene,omitempty"`
	SceneName   string `json:"scene_name,omitempty"`
}

// NewAckMessage creates an accepted acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus, scene Scene, units []ControlUnit) AckMessage {
	return AckMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		Status:       status,
		Scene:        string(scene),
		ControlUnits: unitInts(units),
	}
}

// NewAckError creates a failed acknowledgement for cmd.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		Status:       AckFailed,
		Scene:        cmd.Scene,
		ControlUnits: cmd.ControlUnits,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for one control unit.
func NewStateMessage(unit ControlUnit, name string, scene Scene, sceneName, source string) StateMessage {
	return StateMessage{
		ControlUnit: int(unit),
		Name:        name,
		Scene:       string(scene),
		SceneName:   sceneName,
		Timestamp:   time.Now().UTC(),
		Source:      source,
	}
}

// NewHealthMessage creates a health message from controller stats.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats Stats, reconnects uint64, units int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: &ConnectionStatus{
			Status: stats.State.String(),
		},
		Statistics: &LinkStatistics{
			PollsSent:      stats.PollsSent,
			StatusReplies:  stats.StatusReplies,
			PollMisses:     stats.PollMisses,
			ParseMisses:    stats.ParseMisses,
			ScenesSelected: stats.ScenesSelected,
			WriteFailures:  stats.WriteFailures,
			ReadFailures:   stats.ReadFailures,
			CallbackPanics: stats.CallbackPanics,
			Reconnects:     reconnects,
		},
		ControlUnits: units,
	}

	if stats.State == StateReady && !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		msg.Connection.ConnectedSince = &since
	}

	return msg
}

func newErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

func unitInts(units []ControlUnit) []int {
	out := make([]int, len(units))
	for i, u := range units {
		out[i] = int(u)
	}
	return out
}

// =============================================================================
// Topics
// =============================================================================

// TopicPrefix is the base topic for all bridge messages.
const TopicPrefix = "grafikeye"

// StateTopic returns the retained state topic of a control unit.
// Example: grafikeye/state/3
func StateTopic(unit ControlUnit) string {
	return fmt.Sprintf("%s/state/%d", TopicPrefix, unit)
}

// CommandTopic returns the command topic of a control unit.
// Example: grafikeye/command/3
func CommandTopic(unit ControlUnit) string {
	return fmt.Sprintf("%s/command/%d", TopicPrefix, unit)
}

// AckTopic returns the acknowledgement topic for a command topic target.
// Example: grafikeye/ack/3
func AckTopic(target string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, target)
}

// HealthTopic returns the health topic.
func HealthTopic() string {
	return TopicPrefix + "/health"
}

// RequestTopic returns the topic for a request.
// Example: grafikeye/request/req-abc123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefix, requestID)
}

// ResponseTopic returns the topic for a response.
// Example: grafikeye/response/req-abc123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// CommandSubscribeTopic returns the wildcard topic for all commands.
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/#"
}

// RequestSubscribeTopic returns the wildcard topic for all requests.
func RequestSubscribeTopic() string {
	return TopicPrefix + "/request/#"
}

// parseUnitTarget parses the last segment of a command topic.
func parseUnitTarget(target string) (ControlUnit, bool) {
	n, err := strconv.Atoi(target)
	if err != nil {
		return 0, false
	}
	u := ControlUnit(n)
	return u, u.Valid()
}
