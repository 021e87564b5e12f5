package mcpmgr

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

// ConfigFormat selects the encoding of a server configuration document.
type ConfigFormat string

const (
	FormatJSON ConfigFormat = "json"
	FormatYAML ConfigFormat = "yaml"
)

// FormatForPath picks the encoding from the file extension. JSON with
// comments is read as JSON.
func FormatForPath(path string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadConfigFile reads server configurations from path. References of the
// form ${NAME} in command, args, env values and cwd are replaced with the
// environment variable's value after the document is decoded; a bare $NAME
// is kept literally.
func LoadConfigFile(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	configs, err := parseConfig(data, FormatForPath(path), expandEnvRefs)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return configs, nil
}

// ParseConfig decodes a document of the form
//
//	{"mcpServers": {"<name>": {"command": ["exe", "arg"], "env": {...}, "timeout": 60}}}
//
// The mcpServers wrapper is optional. JSON input may contain comments and
// trailing commas. Servers are returned sorted by name, each validated.
func ParseConfig(data []byte, format ConfigFormat) ([]ServerConfig, error) {
	return parseConfig(data, format, nil)
}

func parseConfig(data []byte, format ConfigFormat, expand func(string) string) ([]ServerConfig, error) {
	raw := map[string]yaml.Node{}
	servers := map[string]fileServer{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode yaml"), mcperr.ErrInvalidConfig)
		}
		node, wrapped := raw["mcpServers"]
		if wrapped {
			if err := node.Decode(&servers); err != nil {
				return nil, errors.Mark(errors.Wrap(err, "decode mcpServers"), mcperr.ErrInvalidConfig)
			}
		} else if err := yaml.Unmarshal(data, &servers); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode servers"), mcperr.ErrInvalidConfig)
		}
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode json"), mcperr.ErrInvalidConfig)
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(std, &doc); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode json"), mcperr.ErrInvalidConfig)
		}
		body := std
		if inner, ok := doc["mcpServers"]; ok {
			body = inner
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&servers); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode servers"), mcperr.ErrInvalidConfig)
		}
	}

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		server := servers[name]
		if expand != nil {
			server = server.expanded(expand)
		}
		cfg, err := server.toConfig(name)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// fileServer is one entry of the mcpServers map.
type fileServer struct {
	Command    commandSpec       `json:"command" yaml:"command"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd        string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Timeout    *float64          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	LogJSONRPC bool              `json:"logJsonRpc,omitempty" yaml:"logJsonRpc,omitempty"`
}

// expanded applies expand to every string field that names a path or value.
func (s fileServer) expanded(expand func(string) string) fileServer {
	out := s
	out.Command = make(commandSpec, len(s.Command))
	for i, part := range s.Command {
		out.Command[i] = expand(part)
	}
	out.Args = make([]string, len(s.Args))
	for i, arg := range s.Args {
		out.Args[i] = expand(arg)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = expand(v)
		}
	}
	out.Cwd = expand(s.Cwd)
	return out
}

// envRef matches ${NAME}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs replaces ${NAME} with the value of NAME, or with the empty
// string when it is unset.
func expandEnvRefs(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func (s fileServer) toConfig(name string) (ServerConfig, error) {
	cfg := ServerConfig{
		Name:       name,
		Env:        s.Env,
		Dir:        s.Cwd,
		LogJSONRPC: s.LogJSONRPC,
	}
	if len(s.Command) > 0 {
		cfg.Command = s.Command[0]
		cfg.Args = append(cfg.Args, s.Command[1:]...)
	}
	cfg.Args = append(cfg.Args, s.Args...)
	if s.Timeout != nil {
		secs := *s.Timeout
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return ServerConfig{}, errors.Mark(errors.Newf("server %q: timeout must be a positive number of seconds", name), mcperr.ErrInvalidConfig)
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// commandSpec accepts either "exe" or ["exe", "arg", ...].
type commandSpec []string

func (c *commandSpec) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = splitSingle(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("command must be a string or an array of strings")
	}
	*c = list
	return nil
}

func (c *commandSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = splitSingle(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		return errors.Newf("line %d: command must be a string or a list of strings", node.Line)
	}
}

func splitSingle(s string) commandSpec {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return commandSpec{s}
}
