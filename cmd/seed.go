package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/model"
)

var seedFilePath string

// seedFixture is the JSON shape of a demo dataset: providers with one
// pre-scored validation each.
type seedFixture struct {
	Providers []seedProvider `json:"providers"`
}

type seedProvider struct {
	FullName        string              `json:"full_name"`
	NPI             string              `json:"npi"`
	Specialty       string              `json:"specialty"`
	Address         string              `json:"address"`
	License         string              `json:"license"`
	Status          string              `json:"status"`
	ConfidenceScore float64             `json:"confidence_score"`
	Discrepancies   []model.Discrepancy `json:"discrepancies,omitempty"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo providers and validations from a JSON fixture",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		data, err := os.ReadFile(seedFilePath)
		if err != nil {
			return eris.Wrap(err, "read seed fixture")
		}
		var fixture seedFixture
		if err := json.Unmarshal(data, &fixture); err != nil {
			return eris.Wrap(err, "parse seed fixture")
		}

		for _, sp := range fixture.Providers {
			status := model.ProviderStatus(sp.Status)
			if status == "" {
				status = model.ProviderStatusPending
			}

			p, err := st.UpsertProvider(ctx, model.Provider{
				FullName:        sp.FullName,
				NPI:             sp.NPI,
				Specialty:       sp.Specialty,
				Address:         sp.Address,
				License:         sp.License,
				Status:          status,
				ConfidenceScore: sp.ConfidenceScore,
			})
			if err != nil {
				return eris.Wrapf(err, "seed provider %s", sp.FullName)
			}

			validationStatus := model.StatusFlagged
			if status == model.ProviderStatusValidated {
				validationStatus = model.StatusValidated
			}
			candidate := model.Candidate{
				FullName:  sp.FullName,
				NPI:       sp.NPI,
				Specialty: sp.Specialty,
				Address:   sp.Address,
				License:   sp.License,
			}
			v, err := st.CreateValidation(ctx, model.Validation{
				ProviderID:      p.ID,
				Status:          validationStatus,
				ConfidenceScore: sp.ConfidenceScore,
				Discrepancies:   sp.Discrepancies,
				Extracted:       candidate,
				Registry: model.RegistryRecord{
					NPI:           sp.NPI,
					OfficialName:  sp.FullName,
					Specialty:     sp.Specialty,
					Address:       sp.Address,
					LicenseNumber: sp.License,
					Status:        "A",
					Found:         true,
				},
			})
			if err != nil {
				return eris.Wrapf(err, "seed validation for %s", sp.FullName)
			}
			if err := st.SetLatestValidation(ctx, p.ID, v.ID); err != nil {
				return eris.Wrapf(err, "link validation for %s", sp.FullName)
			}
		}

		zap.L().Info("seed complete", zap.Int("providers", len(fixture.Providers)))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFilePath, "file", "seed.json", "path to seed fixture")
	rootCmd.AddCommand(seedCmd)
}
