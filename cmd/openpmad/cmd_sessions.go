package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"openpmad/engine"
)

var sessionsProtocol string

var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List or print sessions saved in the SQLite store",
	Long: `Without arguments, lists the session ids in the configured database,
oldest first. With an id, prints that session in the text metadata format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.Output.Dir, cfg.Output.Database)
		store, err := engine.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rec.WriteText(out)
		}
		ids, err := store.Sessions(cmd.Context(), sessionsProtocol)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintf(out, "No sessions in %s\n", path)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsProtocol, "protocol", "p", "", "Only list sessions of this protocol")
	rootCmd.AddCommand(sessionsCmd)
}
