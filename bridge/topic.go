package bridge

import (
	"fmt"
	"strings"
)

// Device firmware and browser clients speak MQTT-style topics with `/`
// separators and a `#` wildcard. The broker speaks NATS subjects with `.`
// separators and a `>` wildcard. Conversion happens only at this boundary;
// everything user-visible stays in topic form.

// PaddedID formats a device identifier the way firmware expects it on the
// wire: zero-padded to 8 digits.
func PaddedID(id int) string {
	return fmt.Sprintf("%08d", id)
}

// InfoWildcard is the inbound topic covering all telemetry from one managed
// device.
func InfoWildcard(deviceID int) string {
	return fmt.Sprintf("managed/device/%s/info/#", PaddedID(deviceID))
}

// SetTimeTopic is the outbound command topic for a light-phase duration
func SetTimeTopic(deviceID int, color string) string {
	return fmt.Sprintf("managed/device/%s/set/time/light/%s", PaddedID(deviceID), color)
}

// ToSubject converts an MQTT-style topic to a NATS subject
func ToSubject(topic string) string {
	subject := strings.ReplaceAll(topic, "/", ".")
	if strings.HasSuffix(subject, ".#") {
		subject = strings.TrimSuffix(subject, ".#") + ".>"
	}
	return subject
}

// ToTopic converts a NATS subject back to the MQTT-style topic form
func ToTopic(subject string) string {
	topic := strings.ReplaceAll(subject, ".", "/")
	if strings.HasSuffix(topic, "/>") {
		topic = strings.TrimSuffix(topic, "/>") + "/#"
	}
	return topic
}

// infoSuffix extracts the reading path under a device's info branch, e.g.
// "time/light/green" from "managed/device/00000001/info/time/light/green".
// The second return is the padded device id; ok is false for topics outside
// the info branch.
func infoSuffix(topic string) (deviceID, suffix string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[0] != "managed" || parts[1] != "device" || parts[3] != "info" {
		return "", "", false
	}
	return parts[2], strings.Join(parts[4:], "/"), true
}
