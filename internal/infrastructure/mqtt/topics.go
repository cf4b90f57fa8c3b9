package mqtt

import "strings"

// TopicPrefixStatus is the base for client presence topics.
const TopicPrefixStatus = "graysync/status"

// Topics maps shared store keys onto MQTT topics below a root.
//
//	topics := mqtt.NewTopics("graysync/store")
//	topics.ForKey("devices")   // "graysync/store/devices"
//	topics.ForKey("devices.1") // "graysync/store/devices.1"
type Topics struct {
	root string
}

// NewTopics returns topic builders rooted at root. Trailing slashes are trimmed.
func NewTopics(root string) Topics {
	return Topics{root: strings.TrimRight(root, "/")}
}

// Root returns the topic root.
func (t Topics) Root() string {
	return t.root
}

// ForKey returns the topic carrying the value of key.
func (t Topics) ForKey(key string) string {
	return t.root + "/" + key
}

// All returns the wildcard subscription covering every key.
func (t Topics) All() string {
	return t.root + "/#"
}

// Key extracts the store key from a topic received on All.
// It reports false for topics outside the root or without a key.
func (t Topics) Key(topic string) (string, bool) {
	key, ok := strings.CutPrefix(topic, t.root+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Status returns the presence topic for a client.
//
// Example: graysync/status/graysync-laptop
func Status(clientID string) string {
	return TopicPrefixStatus + "/" + clientID
}
