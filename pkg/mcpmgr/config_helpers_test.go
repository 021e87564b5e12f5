package mcpmgr

import (
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

func TestServerConfigValidate(t *testing.T) {
	t.Parallel()

	valid := ServerConfig{Name: "files", Command: "npx", Args: []string{"server-files"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	tests := map[string]ServerConfig{
		"empty name":       {Command: "npx"},
		"padded name":      {Name: " files", Command: "npx"},
		"empty command":    {Name: "files", Command: "  "},
		"negative timeout": {Name: "files", Command: "npx", Timeout: -time.Second},
		"empty env key":    {Name: "files", Command: "npx", Env: map[string]string{"": "x"}},
		"env key with =":   {Name: "files", Command: "npx", Env: map[string]string{"A=B": "x"}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			err := cfg.Validate()
			if !errors.Is(err, mcperr.ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, expected ErrInvalidConfig", err)
			}
		})
	}
}

func TestServerConfigCommandLine(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Command: "npx", Args: []string{"-y", "my server", `say "hi"`, ""}}
	got := cfg.CommandLine()
	expected := `npx -y "my server" "say \"hi\"" ""`
	if got != expected {
		t.Fatalf("CommandLine() = %s, expected %s", got, expected)
	}
}

func TestServerConfigEffectiveTimeout(t *testing.T) {
	t.Parallel()

	if got := (ServerConfig{}).EffectiveTimeout(time.Minute); got != time.Minute {
		t.Fatalf("EffectiveTimeout without timeout = %s", got)
	}
	if got := (ServerConfig{Timeout: time.Second}).EffectiveTimeout(time.Minute); got != time.Second {
		t.Fatalf("EffectiveTimeout with timeout = %s", got)
	}
}

func TestServerConfigCloneIsDeep(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Name: "s", Command: "c", Args: []string{"a"}, Env: map[string]string{"K": "V"}}
	clone := cfg.clone()
	clone.Args[0] = "changed"
	clone.Env["K"] = "changed"

	if !reflect.DeepEqual(cfg.Args, []string{"a"}) || cfg.Env["K"] != "V" {
		t.Fatalf("clone shares state with the original: %#v", cfg)
	}
}

func TestManagerOptionsNormalized(t *testing.T) {
	t.Parallel()

	var nilOpts *ManagerOptions
	got := nilOpts.normalized()
	if got.ClientName == "" || got.ClientVersion == "" || got.Logger == nil {
		t.Fatalf("defaults not applied: %#v", got)
	}
	if got.DefaultTimeout != DefaultTimeout || got.MaxConcurrentAdds != 4 {
		t.Fatalf("default timeout/limit = %s/%d", got.DefaultTimeout, got.MaxConcurrentAdds)
	}

	custom := (&ManagerOptions{ClientName: "x", DefaultTimeout: time.Second}).normalized()
	if custom.ClientName != "x" || custom.DefaultTimeout != time.Second {
		t.Fatalf("explicit options overridden: %#v", custom)
	}
}
