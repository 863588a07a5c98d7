package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// CatalogSeed is the YAML document accepted by `sisyphus catalog load`
type CatalogSeed struct {
	Libraries []models.Library `yaml:"libraries"`
	Datasets  []models.Dataset `yaml:"datasets"`
}

// SeedSummary counts what a seed load wrote
type SeedSummary struct {
	Libraries       int
	Datasets        int
	DatasetsSkipped int
}

// ReadCatalogSeed parses a seed document from disk
func ReadCatalogSeed(path string) (*CatalogSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed %s: %w", path, err)
	}

	var seed CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}
	return &seed, nil
}

// LoadSeed writes libraries (replacing existing ones) and datasets (skipping names already present)
func (c *SQLCatalog) LoadSeed(ctx context.Context, seed *CatalogSeed) (SeedSummary, error) {
	var summary SeedSummary

	for _, l := range seed.Libraries {
		if err := c.PutLibrary(ctx, l); err != nil {
			return summary, err
		}
		summary.Libraries++
	}

	for _, ds := range seed.Datasets {
		if _, err := c.CreateDataset(ctx, ds); err != nil {
			if errors.Is(err, lib.ErrConflict) {
				c.logger.Debug("Dataset already in catalog", "dataset", ds.Name)
				summary.DatasetsSkipped++
				continue
			}
			return summary, err
		}
		summary.Datasets++
	}

	c.logger.Info("Catalog seed loaded",
		"libraries", summary.Libraries,
		"datasets", summary.Datasets,
		"skipped", summary.DatasetsSkipped,
	)
	return summary, nil
}
