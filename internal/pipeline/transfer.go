package pipeline

import (
	"context"
	"fmt"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/metrics"
	"github.com/trobanga/sisyphus/internal/models"
)

// TransferRequest moves the files of datasets and results between two storages
type TransferRequest struct {
	RunID      string
	DatasetIDs []int64
	ResultsIDs []int64
	From       string
	To         string
}

// Transferer tags datasets under a batch name and copies the batch.
// A failed copy leaves its tag in place for inspection and manual retry
type Transferer struct {
	catalog Catalog
	storage Storage
	logger  *lib.Logger
	metrics *metrics.Recorder
}

// NewTransferer creates a transfer orchestrator
func NewTransferer(catalog Catalog, storage Storage, logger *lib.Logger, recorder *metrics.Recorder) *Transferer {
	return &Transferer{catalog: catalog, storage: storage, logger: logger, metrics: recorder}
}

// Transfer copies the requested datasets and results from one storage to another.
// Tagging and copying of each batch are separate steps of the sentinel
func (t *Transferer) Transfer(ctx context.Context, s *Sentinel, req TransferRequest) error {
	if req.From == req.To {
		t.logger.Debug("No files transferred, source and destination are the same storage", "storage", req.From)
		t.metrics.ObserveTransfer(req.From, req.To, "skipped")
		return nil
	}

	batches := []models.TransferBatch{
		{DatasetIDs: req.DatasetIDs, From: req.From, To: req.To},
		{DatasetIDs: req.ResultsIDs, From: req.From, To: req.To, Results: true},
	}
	for _, batch := range batches {
		if len(batch.DatasetIDs) == 0 {
			continue
		}
		batch.Name = models.BatchName(req.RunID, req.From, batch.Results)
		if err := t.transferBatch(ctx, s, batch); err != nil {
			t.metrics.ObserveTransfer(req.From, req.To, "failure")
			return err
		}
		t.metrics.ObserveTransfer(req.From, req.To, "success")
	}
	return nil
}

func (t *Transferer) transferBatch(ctx context.Context, s *Sentinel, batch models.TransferBatch) error {
	err := s.Run(ctx, fmt.Sprintf("Tagging %s files as %s", batch.From, batch.Name), func(ctx context.Context) error {
		_, err := t.catalog.Tag(ctx, batch.Name, batch.DatasetIDs)
		return err
	})
	if err != nil {
		return err
	}

	return s.Run(ctx, fmt.Sprintf("Transferring files from %s to %s", batch.From, batch.To), func(ctx context.Context) error {
		if err := t.storage.Copy(ctx, batch.Name, batch.From, batch.To); err != nil {
			return lib.ErrTransferFailed(batch.Name, batch.From, batch.To, err)
		}
		return nil
	})
}
