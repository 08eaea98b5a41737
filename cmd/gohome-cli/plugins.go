package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/core"
	"github.com/joshp123/gohome-melcloud/internal/rpc"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Discover the plugins compiled into the daemon",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugins and their health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := rpc.Invoke(ctx, conn, core.RegistryServiceName, "ListPlugins", nil)
		if err != nil {
			return fmt.Errorf("list plugins: %w", err)
		}
		var list struct {
			Plugins []core.PluginSummary `json:"plugins"`
		}
		if err := rpc.Decode(resp, &list); err != nil {
			return err
		}
		out := newOutput()
		if out.json {
			return out.printJSON(list)
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, p := range list.Plugins {
			rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, p.Status})
		}
		return out.table(rows)
	},
}

var pluginsDescribeCmd = &cobra.Command{
	Use:   "describe <plugin_id>",
	Short: "Show a plugin's services, dashboards and agent notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()

		req, err := structpb.NewStruct(map[string]any{"plugin_id": args[0]})
		if err != nil {
			return err
		}
		resp, err := rpc.Invoke(ctx, conn, core.RegistryServiceName, "DescribePlugin", req)
		if err != nil {
			return fmt.Errorf("describe plugin: %w", err)
		}
		var desc struct {
			Plugin core.PluginDescriptor `json:"plugin"`
		}
		if err := rpc.Decode(resp, &desc); err != nil {
			return err
		}
		out := newOutput()
		if out.json {
			return out.printJSON(desc)
		}
		p := desc.Plugin
		fmt.Fprintf(out.w, "id: %s\n", p.PluginID)
		fmt.Fprintf(out.w, "name: %s\n", p.DisplayName)
		fmt.Fprintf(out.w, "version: %s\n", p.Version)
		fmt.Fprintf(out.w, "status: %s\n", p.Status)
		if p.HealthMessage != "" {
			fmt.Fprintf(out.w, "health: %s\n", p.HealthMessage)
		}
		fmt.Fprintln(out.w, "services:")
		for _, svc := range p.Services {
			fmt.Fprintf(out.w, "  - %s\n", svc)
		}
		fmt.Fprintln(out.w, "dashboards:")
		for _, dash := range p.Dashboards {
			fmt.Fprintf(out.w, "  - %s (%s)\n", dash.Name, dash.Path)
		}
		fmt.Fprintln(out.w, "agents_md:")
		fmt.Fprintln(out.w, p.AgentsMD)
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd, pluginsDescribeCmd)
	rootCmd.AddCommand(pluginsCmd)
}
