// cmd/bloodlink/compat.go
package main

import (
	"fmt"
	"io"
	"strings"

	"bloodlink/internal/compatibility"
	"bloodlink/internal/models"

	"github.com/spf13/cobra"
)

func newCheckCompatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-compat [donor] [recipient]",
		Short: "Validate the compatibility table, or check a single donor/recipient pair",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := compatibility.ValidateTable(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch len(args) {
			case 0:
				printMatrix(out)
				return nil
			case 1:
				donor, err := models.ParseBloodType(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s can give to: %s\n", donor, joinTypes(compatibility.CompatibleRecipients(donor)))
				fmt.Fprintf(out, "%s can receive from: %s\n", donor, joinTypes(compatibility.CompatibleDonors(donor)))
				return nil
			default:
				donor, err := models.ParseBloodType(args[0])
				if err != nil {
					return err
				}
				recipient, err := models.ParseBloodType(args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s -> %s: compatible=%t score=%.0f\n", donor, recipient,
					compatibility.CanDonate(donor, recipient), compatibility.Score(donor, recipient))
				return nil
			}
		},
	}
}

func printMatrix(out io.Writer) {
	types := models.AllBloodTypes()
	fmt.Fprintf(out, "%-4s", "")
	for _, r := range types {
		fmt.Fprintf(out, "%4s", r)
	}
	fmt.Fprintln(out)
	for _, d := range types {
		fmt.Fprintf(out, "%-4s", d)
		for _, r := range types {
			mark := "."
			if compatibility.CanDonate(d, r) {
				mark = "x"
			}
			fmt.Fprintf(out, "%4s", mark)
		}
		fmt.Fprintln(out)
	}
}

func joinTypes(types []models.BloodType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, " ")
}
