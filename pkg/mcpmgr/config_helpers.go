package mcpmgr

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

// Validate reports whether cfg can be used to launch a server. Failures are
// marked mcperr.ErrInvalidConfig.
func (c ServerConfig) Validate() error {
	name := strings.TrimSpace(c.Name)
	switch {
	case name == "":
		return errors.Mark(errors.New("server name is required"), mcperr.ErrInvalidConfig)
	case name != c.Name:
		return errors.Mark(errors.Newf("server name %q has surrounding whitespace", c.Name), mcperr.ErrInvalidConfig)
	case strings.TrimSpace(c.Command) == "":
		return errors.Mark(errors.Newf("server %q: command is required", c.Name), mcperr.ErrInvalidConfig)
	case c.Timeout < 0:
		return errors.Mark(errors.Newf("server %q: negative timeout %s", c.Name, c.Timeout), mcperr.ErrInvalidConfig)
	}
	for k := range c.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			return errors.Mark(errors.Newf("server %q: invalid environment variable name %q", c.Name, k), mcperr.ErrInvalidConfig)
		}
	}
	return nil
}

// CommandLine renders the command and its arguments for display.
func (c ServerConfig) CommandLine() string {
	parts := append([]string{c.Command}, c.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		}
	}
	return strings.Join(parts, " ")
}

// EffectiveTimeout returns the configured timeout, or fallback when unset.
func (c ServerConfig) EffectiveTimeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return fallback
}

// clone returns a deep copy so callers cannot mutate a registered config.
func (c ServerConfig) clone() ServerConfig {
	out := c
	out.Args = slices.Clone(c.Args)
	out.Env = maps.Clone(c.Env)
	return out
}
