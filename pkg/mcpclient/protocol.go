package mcpclient

import "slices"

// Protocol versions this client can speak, newest first. The client offers
// LatestProtocolVersion and accepts any of these in the server's answer.
const (
	LatestProtocolVersion = "2025-06-18"
	protocolVersion250326 = "2025-03-26"
	protocolVersion241105 = "2024-11-05"
)

var supportedProtocolVersions = []string{
	LatestProtocolVersion,
	protocolVersion250326,
	protocolVersion241105,
}

// SupportedProtocolVersions returns the versions accepted during the handshake.
func SupportedProtocolVersions() []string {
	return slices.Clone(supportedProtocolVersions)
}

// IsCompatibleVersion reports whether v is a version this client speaks.
func IsCompatibleVersion(v string) bool {
	return slices.Contains(supportedProtocolVersions, v)
}

// MCP methods used by the client.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"

	MethodResourcesSubscribe   = "resources/subscribe"
	MethodResourcesUnsubscribe = "resources/unsubscribe"

	MethodPromptsList = "prompts/list"
	MethodPromptsGet  = "prompts/get"

	NotificationInitialized = "notifications/initialized"
)
