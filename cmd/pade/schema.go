package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gopade/adapters/excel"
	"gopade/adapters/schemafile"
	"gopade/domain/design"
)

// defaultSchemaPath puts the schema next to the data file.
func defaultSchemaPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".schema.yaml"
}

// parseFactor reads name=level1,level2,...
func parseFactor(s string) (string, []string, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(list) == "" {
		return "", nil, fmt.Errorf("factor %q: want name=level1,level2", s)
	}
	var levels []string
	for _, l := range strings.Split(list, ",") {
		levels = append(levels, strings.TrimSpace(l))
	}
	return name, levels, nil
}

func newInitSchemaCmd(a *app) *cobra.Command {
	var (
		schemaPath string
		sheet      string
		idColumns  []string
		factors    []string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init-schema <data-file>",
		Short: "Write a schema document for an input table",
		Long: `Write a YAML schema for the input table. Every column that is not a
feature id column becomes a sample. Declare factors with --factor, then edit
the sample_factor_mapping section to assign each sample its levels.

Example:
  pade init-schema expr.csv --id-column gene --factor treatment=control,drug --factor batch=b1,b2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPath := args[0]
			if schemaPath == "" {
				schemaPath = defaultSchemaPath(dataPath)
			}
			if _, err := os.Stat(schemaPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", schemaPath)
			}

			reader := excel.NewDataReader(dataPath, excel.WithSheet(sheet), excel.WithLogger(a.logger))
			headers, err := reader.Headers(cmd.Context())
			if err != nil {
				return err
			}
			if len(idColumns) == 0 {
				idColumns = headers[:1]
			}
			doc, err := buildDocument(headers, idColumns, factors)
			if err != nil {
				return err
			}
			if err := schemafile.NewStore(schemaPath).SaveSchema(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s: %d samples, %d factors\n", schemaPath, doc.Schema.NumSamples(), len(doc.Schema.Factors))
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "Schema file to write (default <data-file>.schema.yaml)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Worksheet to read from an xlsx file (default first sheet)")
	cmd.Flags().StringSliceVar(&idColumns, "id-column", nil, "Column holding feature ids (default first column)")
	cmd.Flags().StringArrayVar(&factors, "factor", nil, "Factor declaration name=level1,level2 (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing schema file")
	return cmd
}

func buildDocument(headers, idColumns, factors []string) (*design.Document, error) {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	for _, c := range idColumns {
		if !known[c] {
			return nil, fmt.Errorf("id column %q is not in the input headers", c)
		}
	}
	doc := design.NewDocument(headers, idColumns)
	for _, f := range factors {
		name, levels, err := parseFactor(f)
		if err != nil {
			return nil, err
		}
		if err := doc.Schema.AddFactor(name, levels...); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
