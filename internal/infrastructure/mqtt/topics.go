package mqtt

import "strings"

// Topics maps connection-relative destinations onto broker topics.
//
// Every destination is placed under Root, so a reporter configured with
// root "home/reporter" publishes "lamp/state" to "home/reporter/lamp/state".
//
//	topics := mqtt.Topics{Root: "home/reporter"}
//	topics.Join("status") // "home/reporter/status"
type Topics struct {
	Root string
}

// Join returns the broker topic for a destination.
func (t Topics) Join(destination string) string {
	root := strings.Trim(t.Root, "/")
	destination = strings.TrimPrefix(destination, "/")
	switch {
	case root == "":
		return destination
	case destination == "":
		return root
	default:
		return root + "/" + destination
	}
}
