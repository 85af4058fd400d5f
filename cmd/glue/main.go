// Command glue runs GLUE parameter sensitivity analyses of permafrost
// thermal models and inspects their stored results.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "glue",
		Short: "GLUE parameter sensitivity analysis for ground thermal models",
		Long: `glue draws Latin Hypercube samples of model parameters, runs the GIPL
or TTOP ground thermal model once per sample, scores every run against
observed mean annual ground temperature, and fits a sensitivity curve of
mean bias against each parameter.

Batches and curves are stored in SQLite so that curves can be refitted
without re-running the model.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newCurvesCmd(), newBatchesCmd(), newServeCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
