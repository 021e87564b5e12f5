package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

func newServersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Start the configured servers and report their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				return printServers(cmd.OutOrStdout(), m.GetServerSummaries(cmd.Context()))
			})
		},
	}
}

func newToolsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List tools by qualified name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				rows := make(map[string]string)
				for name, tool := range m.ListAllTools() {
					rows[name] = tool.Description
				}
				return printNamed(cmd.OutOrStdout(), "TOOL", rows)
			})
		},
	}
}

func newPromptsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List prompts by qualified name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				rows := make(map[string]string)
				for name, prompt := range m.ListAllPrompts() {
					rows[name] = prompt.Description
				}
				return printNamed(cmd.OutOrStdout(), "PROMPT", rows)
			})
		},
	}
}

func newResourcesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List resources grouped by server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, opts, func(m *mcpmgr.Manager) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SERVER\tURI\tNAME")
				all := m.ListAllResources()
				servers := make([]string, 0, len(all))
				for id := range all {
					servers = append(servers, id)
				}
				sort.Strings(servers)
				for _, id := range servers {
					for _, res := range all[id] {
						fmt.Fprintf(w, "%s\t%s\t%s\n", id, res.URI, res.Name)
					}
				}
				return w.Flush()
			})
		},
	}
}

func printServers(out io.Writer, summaries []mcpmgr.ServerSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tPID\tPROTOCOL\tTOOLS\tPROMPTS\tRESOURCES")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
			s.ID, s.Status, s.PID, s.ProtocolVersion, s.Tools, s.Prompts, s.Resources)
	}
	return w.Flush()
}

func printNamed(out io.Writer, header string, rows map[string]string) error {
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tDESCRIPTION\n", header)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, rows[name])
	}
	return w.Flush()
}
