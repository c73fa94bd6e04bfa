// Command catalogd runs a catalogd node or talks to one.
//
//	catalogd serve --coordinator --uri http://coord:8080
//	catalogd serve --discovery-uri http://coord:8080 --uri http://w1:8080
//	catalogd catalog add hive1 hive -p hive.metastore.uri=thrift://metastore:9083
//	catalogd catalog remove hive1
//	catalogd nodes
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catalogd",
		Short: "Dynamic catalog management for a query-engine cluster",
		Example: `  $ catalogd serve --coordinator
  $ catalogd catalog add mem memory`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCatalogCmd(), newNodesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
