package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/permafrost.glue/internal/analysis"
	"github.com/banshee-data/permafrost.glue/internal/db"
	"github.com/banshee-data/permafrost.glue/internal/glue"
)

func newCurvesCmd() *cobra.Command {
	var (
		dbPath   string
		batchID  string
		degrees  map[string]int
		minGroup int
	)
	cmd := &cobra.Command{
		Use:   "curves",
		Short: "Show or refit the sensitivity curves of a stored batch",
		Long: `Without --degree the stored curves are printed. With one or more
--degree flags the curves are recomputed from the stored samples and
replace the stored ones; the model is not run again.

Example:
  glue curves --db out/glue.db --batch <id> --degree nf=5 --degree rk=2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(degrees) == 0 && !cmd.Flags().Changed("min-group") {
				curves, err := store.ListCurves(batchID)
				if err != nil {
					return err
				}
				if len(curves) == 0 {
					return fmt.Errorf("batch %s has no stored curves", batchID)
				}
				writeCurves(cmd.OutOrStdout(), curves)
				return nil
			}

			ev, err := analysis.Refit(store, batchID, degrees, minGroup)
			if err != nil {
				return err
			}
			writeCurves(cmd.OutOrStdout(), ev.Curves)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&dbPath, "db", "out/glue.db", "SQLite database written by glue run")
	fl.StringVar(&batchID, "batch", "", "batch id (see glue batches)")
	fl.StringToIntVar(&degrees, "degree", nil, "fit degree per parameter, name=degree")
	fl.IntVar(&minGroup, "min-group", 1, "smallest group of identical values reported")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func writeCurves(w io.Writer, curves []glue.SensitivityCurve) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tDEGREE\tGROUPS\tFIT")
	for _, c := range curves {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", c.Parameter, c.Degree, len(c.Values), describeFit(c))
	}
	_ = tw.Flush()
}

func describeFit(c glue.SensitivityCurve) string {
	if !c.HasFit() {
		if c.FitErr != nil {
			return "none: " + c.FitErr.Error()
		}
		return "none"
	}
	coeffs := make([]string, len(c.Fit.Coeffs))
	for i, v := range c.Fit.Coeffs {
		coeffs[i] = strconv.FormatFloat(v, 'g', 4, 64)
	}
	return fmt.Sprintf("[%s] on [%g, %g]", strings.Join(coeffs, " "), c.Fit.Domain[0], c.Fit.Domain[1])
}
