package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every scheduler topic.
const TopicPrefix = "grottsched"

// Topics provides builders for scheduler MQTT topics.
//
//	topic := mqtt.Topics{}.Execution(42)
//	// Returns: "grottsched/execution/42"
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: grottsched/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Alert returns the failure alert topic.
//
// Example: grottsched/alert
func (Topics) Alert() string {
	return TopicPrefix + "/alert"
}

// Execution returns the topic a schedule's execution events go to.
//
// Example: grottsched/execution/42
func (Topics) Execution(scheduleID int64) string {
	return fmt.Sprintf("%s/execution/%d", TopicPrefix, scheduleID)
}

// ExecuteCommand returns the topic that requests an immediate run.
//
// Example: grottsched/command/execute/42
func (Topics) ExecuteCommand(scheduleID int64) string {
	return fmt.Sprintf("%s/command/execute/%d", TopicPrefix, scheduleID)
}

// AllExecutions matches every schedule's execution events.
func (Topics) AllExecutions() string {
	return TopicPrefix + "/execution/+"
}

// AllExecuteCommands matches every execute request.
func (Topics) AllExecuteCommands() string {
	return TopicPrefix + "/command/execute/+"
}

// ScheduleIDFromTopic extracts the trailing schedule ID from an
// execution or execute-command topic.
func ScheduleIDFromTopic(topic string) (int64, error) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return 0, fmt.Errorf("%w: no schedule id in %q", ErrInvalidTopic, topic)
	}
	id, err := strconv.ParseInt(topic[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad schedule id in %q", ErrInvalidTopic, topic)
	}
	return id, nil
}
