package mqtt

import "fmt"

// Topic prefixes for the bridge's MQTT hierarchy.
//
// Device-level topics (state, command, ack, request, response, health) are
// owned by the bridge package. This package only needs the system status
// topic for the LWT and online/offline announcements.
const (
	// TopicPrefix is the base for every topic the bridge publishes.
	TopicPrefix = "grafikeye"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "grafikeye/system"
)

// Topics provides builders for infrastructure-level MQTT topics.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.SystemStatus()
//	// Returns: "grafikeye/system/status"
type Topics struct{}

// SystemStatus returns the system status topic.
//
// Example: grafikeye/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics returns a pattern matching every bridge topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: grafikeye/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
