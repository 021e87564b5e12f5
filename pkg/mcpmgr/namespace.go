package mcpmgr

import "strings"

// QualifiedNameSeparator joins a server name and a tool or prompt name.
const QualifiedNameSeparator = "_"

// QualifiedName returns the manager-wide name of a server's tool or prompt.
func QualifiedName(server, name string) string {
	return server + QualifiedNameSeparator + name
}

// splitQualified resolves qualified against the registered server names. The
// longest server name that is followed by the separator wins, since server
// names may themselves contain the separator.
func splitQualified(qualified string, servers []string) (server, name string, ok bool) {
	for _, s := range servers {
		prefix := s + QualifiedNameSeparator
		if len(qualified) == len(prefix) || !strings.HasPrefix(qualified, prefix) || len(s) <= len(server) {
			continue
		}
		server, name, ok = s, qualified[len(prefix):], true
	}
	return server, name, ok
}
