package mcpgateway

import (
	"net/url"
	"strings"

	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

// NamespaceStrategy generates the downstream identifiers for upstream MCP
// servers. Implementations must be deterministic and collision-free for a given
// serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	PromptName(serverID, promptName string) string
	ResourceURI(serverID, resourceURI string) string
	NativeResourceURI(serverID, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes tool and prompt names with the originating
// server ID. With the default separator the names match the manager's
// qualified names, so "calc_add" means the same thing on both sides.
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return s.qualify(serverID, toolName)
}

func (s ServerPrefixNamespace) PromptName(serverID, promptName string) string {
	return s.qualify(serverID, promptName)
}

// ResourceURI wraps the upstream URI so two servers exposing the same URI stay
// distinct downstream.
func (s ServerPrefixNamespace) ResourceURI(serverID, resourceURI string) string {
	return resourcePrefix(serverID) + resourceURI
}

func (s ServerPrefixNamespace) NativeResourceURI(serverID, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, resourcePrefix(serverID))
}

func (s ServerPrefixNamespace) qualify(serverID, name string) string {
	if s.Separator == "" {
		return mcpmgr.QualifiedName(serverID, name)
	}
	return serverID + s.Separator + name
}

// resourcePrefix is "mcpgateway+<escaped server id>/resources::".
func resourcePrefix(serverID string) string {
	return "mcpgateway+" + url.PathEscape(serverID) + "/resources::"
}
