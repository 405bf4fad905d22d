package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/render"
	"github.com/spf13/cobra"
)

var unitsGroup string

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List the units the backend offers for a page group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listUnits(cmd.Context())
	},
}

func registerUnitsCommand(root *cobra.Command) {
	root.AddCommand(unitsCmd)

	unitsCmd.Flags().StringVarP(&unitsGroup, "group", "g", string(model.GroupBulk), "Page group (bulk/sc)")
}

func listUnits(ctx context.Context) error {
	sess, _, err := startSession(ctx, model.Group(unitsGroup))
	if err != nil {
		return err
	}

	units := sess.Catalog().Units()
	render.Catalog(os.Stdout, units)
	fmt.Printf("\n%d units in %s\n", len(units), unitsGroup)
	return nil
}
