package swarm

import "strings"

func LoopbackListenHost(network string) string {
	if strings.Contains(network, "6") {
		return "::1"
	}
	return "127.0.0.1"
}
