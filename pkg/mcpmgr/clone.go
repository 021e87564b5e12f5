package mcpmgr

import "github.com/modelcontextprotocol/go-sdk/mcp"

// cloneTool copies tool deeply enough that callers may modify the result,
// including its schemas, without touching the cached catalog.
func cloneTool(tool *mcp.Tool, name string) *mcp.Tool {
	clone := *tool
	clone.Name = name
	clone.Meta = cloneMeta(tool.Meta)
	clone.InputSchema = cloneJSON(tool.InputSchema)
	clone.OutputSchema = cloneJSON(tool.OutputSchema)
	if tool.Annotations != nil {
		ann := *tool.Annotations
		if ann.DestructiveHint != nil {
			v := *ann.DestructiveHint
			ann.DestructiveHint = &v
		}
		if ann.OpenWorldHint != nil {
			v := *ann.OpenWorldHint
			ann.OpenWorldHint = &v
		}
		clone.Annotations = &ann
	}
	return &clone
}

// clonePrompt is cloneTool for prompts.
func clonePrompt(prompt *mcp.Prompt, name string) *mcp.Prompt {
	clone := *prompt
	clone.Name = name
	clone.Meta = cloneMeta(prompt.Meta)
	if prompt.Arguments != nil {
		clone.Arguments = make([]*mcp.PromptArgument, len(prompt.Arguments))
		for i, arg := range prompt.Arguments {
			if arg != nil {
				a := *arg
				clone.Arguments[i] = &a
			}
		}
	}
	return &clone
}

func cloneMeta(meta mcp.Meta) mcp.Meta {
	if meta == nil {
		return nil
	}
	return mcp.Meta(cloneJSON(map[string]any(meta)).(map[string]any))
}

// cloneJSON copies the maps and slices of a decoded JSON value. Other values
// are immutable or opaque and are shared.
func cloneJSON(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneJSON(e)
		}
		return out
	default:
		return v
	}
}
