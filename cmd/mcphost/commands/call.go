package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

func newCallCommand(opts *globalOptions) *cobra.Command {
	var (
		argsJSON string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "call <server_tool>",
		Short: "Call a tool by its qualified name",
		Example: `  mcphost call calc_add --args '{"a": 1, "b": 2}'
  mcphost call calc_add --args '{"a": 1, "b": 2}' --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(argsJSON)
			if err != nil {
				return err
			}
			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				result, err := m.CallTool(cmd.Context(), args[0], toolArgs)
				if err != nil {
					return err
				}
				if raw {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), string(result))
					return err
				}
				decoded, err := mcpmgr.DecodeCallToolResult(result)
				if err != nil {
					return err
				}
				if err := printToolResult(cmd.OutOrStdout(), decoded); err != nil {
					return err
				}
				if decoded.IsError {
					return errors.Newf("tool %s reported an error", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "", "tool arguments as a JSON object")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the result as returned by the server")
	return cmd
}

// parseToolArgs decodes the --args flag. An empty flag means no arguments.
func parseToolArgs(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "parse --args"), `pass a JSON object, e.g. '{"a": 1}'`)
	}
	if args == nil {
		return nil, errors.WithHint(errors.New("parse --args: expected a JSON object"), `pass a JSON object, e.g. '{"a": 1}'`)
	}
	return args, nil
}

// printToolResult writes text content as-is and anything else as JSON.
func printToolResult(out io.Writer, result *mcp.CallToolResult) error {
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			if _, err := fmt.Fprintln(out, text.Text); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(content)
		if err != nil {
			return errors.Wrap(err, "encode content")
		}
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
	}
	if result.StructuredContent != nil && len(result.Content) == 0 {
		data, err := json.MarshalIndent(result.StructuredContent, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode structured content")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return nil
}
