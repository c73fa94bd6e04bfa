package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/catalogd/internal/catalog"
	"github.com/dreamware/catalogd/internal/cluster"
)

// clientFlags are shared by the commands that talk to a running node.
type clientFlags struct {
	server  string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", "http://127.0.0.1:8080", "URI of the node to talk to")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
}

func (f *clientFlags) url(segments ...string) (string, error) {
	return cluster.JoinURL(f.server, segments...)
}

func (f *clientFlags) client() *cluster.Client {
	return cluster.NewClient(f.timeout)
}

func newCatalogCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Create, remove and list catalogs",
	}
	flags.register(cmd)
	cmd.AddCommand(
		newCatalogAddCmd(&flags),
		newCatalogRemoveCmd(&flags),
		newCatalogListCmd(&flags),
		newCatalogHistoryCmd(&flags),
	)
	return cmd
}

func newCatalogAddCmd(flags *clientFlags) *cobra.Command {
	var (
		props map[string]string
		local bool
	)
	cmd := &cobra.Command{
		Use:   "add NAME CONNECTOR",
		Short: "Create a catalog on every node",
		Example: `  $ catalogd catalog add hive1 hive -p hive.metastore.uri=thrift://metastore:9083
  $ catalogd catalog add pg postgresql -p connection-url=jdbc:postgresql://db:5432/app`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := cluster.CatalogInfo{CatalogName: args[0], ConnectorName: args[1], Properties: props}
			if err := info.Validate(); err != nil {
				return err
			}
			u, err := flags.url(catalogPath(local)...)
			if err != nil {
				return err
			}
			if err := flags.client().PutJSON(cmd.Context(), u, info, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog %s created\n", info.CatalogName)
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&props, "property", "p", nil, "connector property as key=value, repeatable")
	cmd.Flags().BoolVar(&local, "local", false, "apply on the target node only")
	return cmd
}

func newCatalogRemoveCmd(flags *clientFlags) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a catalog from every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cluster.ValidateCatalogName(args[0]); err != nil {
				return err
			}
			u, err := flags.url(append(catalogPath(local), args[0])...)
			if err != nil {
				return err
			}
			if err := flags.client().Delete(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog %s removed\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "apply on the target node only")
	return cmd
}

func catalogPath(local bool) []string {
	if local {
		return []string{"v1", "catalog", "node"}
	}
	return []string{"v1", "catalog"}
}

func newCatalogListCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalogs of the target node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := flags.url("v1", "catalog", "list")
			if err != nil {
				return err
			}
			var names []string
			if err := flags.client().GetJSON(cmd.Context(), u, &names); err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newCatalogHistoryCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recent broadcasts and the peers they missed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := flags.url("v1", "catalog", "broadcasts")
			if err != nil {
				return err
			}
			var results []catalog.BroadcastResult
			if err := flags.client().GetJSON(cmd.Context(), u, &results); err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), results)
		},
	}
}

func printHistory(out io.Writer, results []catalog.BroadcastResult) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOPERATION\tCATALOG\tNODE\tSTATUS\tERROR")
	for _, r := range results {
		for _, o := range r.Outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.StartedAt.Format(time.RFC3339), r.Operation, r.Catalog, o.Node, o.Status, o.Error)
		}
	}
	return w.Flush()
}

func newNodesCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List cluster nodes as seen by the target node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := flags.url("v1", "catalog", "nodes")
			if err != nil {
				return err
			}
			var nodes []cluster.NodeInfo
			if err := flags.client().GetJSON(cmd.Context(), u, &nodes); err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), nodes)
		},
	}
	flags.register(cmd)
	return cmd
}

func printNodes(out io.Writer, nodes []cluster.NodeInfo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tURI\tSTATE\tCOORDINATOR\tVERSION")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", n.Identifier, n.URI, n.State, n.Coordinator, n.Version)
	}
	return w.Flush()
}
