package runstatus

import "strings"

const (
	Starting         = "Starting"
	Authenticating   = "Authenticating"
	Authenticated    = "Authenticated"
	Connecting       = "Connecting"
	Streaming        = "Streaming"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
	Stopped          = "Stopped"
)

const (
	KeyStarting         = "starting"
	KeyAuthenticating   = "authenticating"
	KeyAuthenticated    = "authenticated"
	KeyConnecting       = "connecting"
	KeyStreaming        = "streaming"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
	KeyStopped          = "stopped"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Healthy reports whether the status means events are flowing.
func Healthy(status string) bool {
	return Key(status) == KeyStreaming
}
