package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/permafrost.glue/internal/db"
)

func newBatchesCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List stored batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			batches, err := store.ListBatches()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tCREATED\tBACKEND\tSAMPLES\tMISSING\tSEED")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					b.BatchID, b.CreatedAt.Local().Format(time.DateTime), b.Backend, b.SampleCount, b.MissingCount, b.Seed)
			}
			return tw.Flush()
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "out/glue.db", "SQLite database written by glue run")

	rm := &cobra.Command{
		Use:   "rm <batch-id>",
		Short: "Delete a batch with its samples and curves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.DeleteBatch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(rm)
	return cmd
}
