package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatwoot/supportsync/internal/outfmt"
	"github.com/chatwoot/supportsync/internal/schema"
)

type schemaSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the JSON records supportsync prints",
		Example: `  supportsync schema list
  supportsync schema show message
  supportsync schema show chat-event -o json`,
	}
	cmd.AddCommand(newSchemaListCmd())
	cmd.AddCommand(newSchemaShowCmd())
	return cmd
}

func newSchemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known records",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			names := schema.List()
			summaries := make([]schemaSummary, 0, len(names))
			for _, name := range names {
				s, _ := schema.Get(name)
				summaries = append(summaries, schemaSummary{Name: name, Description: s.Description})
			}

			f := outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(summaries); handled {
				return err
			}
			f.StartTable("RECORD", "DESCRIPTION")
			for _, s := range summaries {
				desc := s.Description
				if len(desc) > 60 {
					desc = desc[:57] + "..."
				}
				f.Row(s.Name, desc)
			}
			return f.EndTable()
		}),
	}
}

func newSchemaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <record>",
		Short: "Show the fields of one record",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			s, err := schema.Get(name)
			if err != nil {
				if suggestion := suggestCommand(name, schema.List()); suggestion != "" {
					return fmt.Errorf("unknown record %q, did you mean %q?", name, suggestion)
				}
				return fmt.Errorf("unknown record %q; known: %s", name, strings.Join(schema.List(), ", "))
			}

			f := outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if handled, err := f.Output(s); handled {
				return err
			}
			printSchemaText(cmd.OutOrStdout(), name, s)
			return nil
		}),
	}
}

func printSchemaText(out io.Writer, name string, s *schema.Schema) {
	_, _ = fmt.Fprintf(out, "Record: %s\n", name)
	if s.Description != "" {
		_, _ = fmt.Fprintf(out, "%s\n", s.Description)
	}
	if len(s.Properties) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "Fields:")
		printFields(out, s, "  ")
	}
}

func printFields(out io.Writer, s *schema.Schema, indent string) {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	for _, name := range names {
		prop := s.Properties[name]
		printField(out, name, prop, required[name], indent)
		// nested records are shown one level deep
		if len(prop.Properties) > 0 && len(indent) < 4 {
			printFields(out, prop, indent+"    ")
		}
	}
}

func printField(out io.Writer, name string, s *schema.Schema, required bool, indent string) {
	typeName := s.Type
	switch {
	case s.Items != nil:
		typeName = fmt.Sprintf("array<%s>", s.Items.Type)
	case s.Format != "":
		typeName = fmt.Sprintf("%s (%s)", s.Type, s.Format)
	}
	marker := ""
	if required {
		marker = " (required)"
	}
	_, _ = fmt.Fprintf(out, "%s%s: %s%s\n", indent, name, typeName, marker)
	if s.Description != "" {
		_, _ = fmt.Fprintf(out, "%s  %s\n", indent, s.Description)
	}
	if len(s.Enum) > 0 {
		_, _ = fmt.Fprintf(out, "%s  one of: %s\n", indent, strings.Join(s.Enum, ", "))
	}
}
