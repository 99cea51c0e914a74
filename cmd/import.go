package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/db"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/store"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-import a provider roster CSV",
	Long:  "Imports provider rows via COPY into a temp table and an ON CONFLICT upsert keyed on NPI. Requires the postgres store driver.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("import requires the postgres store driver")
		}
		if err := pg.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rows, err := readRoster(importCSVPath)
		if err != nil {
			return err
		}

		n, err := db.BulkUpsert(ctx, pg.Pool(), db.UpsertConfig{
			Table: "providers",
			Columns: []string{
				"id", "full_name", "npi", "specialty", "address", "license",
				"status", "confidence_score", "last_updated",
			},
			ConflictKeys: []string{"npi"},
			UpdateCols:   []string{"full_name", "specialty", "address", "license", "last_updated"},
		}, rows)
		if err != nil {
			return eris.Wrap(err, "import roster")
		}

		zap.L().Info("import complete",
			zap.Int64("rows", n),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// readRoster parses the CSV into bulk-upsert rows. The header row names the
// columns; unknown columns are ignored and missing ones import as empty. A
// row without an NPI still imports, it just can never merge with a later
// re-import.
func readRoster(path string) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open roster csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index["full_name"]; !ok {
		return nil, eris.New("roster csv missing full_name column")
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	now := time.Now().UTC()
	var rows [][]any
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read csv record")
		}

		var npi any
		if v := field(record, "npi"); v != "" {
			npi = v
		}
		rows = append(rows, []any{
			uuid.New().String(),
			field(record, "full_name"),
			npi,
			field(record, "specialty"),
			field(record, "address"),
			field(record, "license"),
			string(model.ProviderStatusPending),
			0.0,
			now,
		})
	}
	return rows, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to roster CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
