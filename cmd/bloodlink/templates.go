// cmd/bloodlink/templates.go
package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"bloodlink/pkg/registry"

	"github.com/spf13/cobra"
)

// newTemplatesCommand groups the template registry maintenance commands.
func newTemplatesCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and validate the notification template registry",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "configs/templates.json", "path to the template registry")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check ids, channels and data schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registry %s (version %s) is valid: %d templates\n", path, reg.Version, len(reg.Templates))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the templates and the channels they allow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tCHANNELS\tNAME")
			for _, t := range reg.Templates {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Version, strings.Join(t.Channels, ","), t.DisplayName)
			}
			return w.Flush()
		},
	})

	var data string
	render := &cobra.Command{
		Use:   "render <id>",
		Short: "Render a template against a JSON data document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return err
			}
			tmpl, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			vars := map[string]interface{}{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &vars); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}
			if err := tmpl.ValidateData(vars); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject: %s\n\n%s\n", registry.Render(tmpl.Subject, vars), registry.Render(tmpl.Body, vars))
			if tmpl.Allows("sms") {
				fmt.Fprintf(out, "\nsms: %s\n", registry.Render(tmpl.SMSText(), vars))
			}
			return nil
		},
	}
	render.Flags().StringVar(&data, "data", "", "template data as a JSON object")
	cmd.AddCommand(render)

	return cmd
}
