package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/pipeline"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func newTransferer() (*pipeline.Transferer, *testsupport.Catalog, *testsupport.Storage, *pipeline.Sentinel) {
	catalog := testsupport.NewCatalog()
	storage := testsupport.NewStorage()
	storage.Log = catalog.Log
	logger := testsupport.Logger()
	return pipeline.NewTransferer(catalog, storage, logger, nil), catalog, storage, pipeline.NewSentinel("SC-100", nil, logger, nil)
}

func TestTransferSameStorageIsNoop(t *testing.T) {
	transferer, catalog, _, s := newTransferer()

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID:      "SC-100",
		DatasetIDs: []int64{1, 2},
		ResultsIDs: []int64{3},
		From:       "shahlab",
		To:         "shahlab",
	})

	require.NoError(t, err)
	assert.Empty(t, catalog.Log.Calls())
}

func TestTransferTagsThenCopies(t *testing.T) {
	transferer, catalog, storage, s := newTransferer()

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID:      "SC-100",
		DatasetIDs: []int64{1, 2},
		From:       "singlecellblob",
		To:         "shahlab",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Tag", "Copy"}, catalog.Log.Calls())

	tag, ok := catalog.Tags()["SC-100_singlecellblob"]
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, tag.MemberIDs)
	assert.Equal(t, []testsupport.CopyCall{{Tag: "SC-100_singlecellblob", From: "singlecellblob", To: "shahlab"}}, storage.Copies())
}

func TestTransferResultsUseSeparateBatch(t *testing.T) {
	transferer, catalog, storage, s := newTransferer()

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID:      "SC-100",
		DatasetIDs: []int64{1},
		ResultsIDs: []int64{7},
		From:       "shahlab",
		To:         "singlecellblob",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Tag", "Copy", "Tag", "Copy"}, catalog.Log.Calls())
	copies := storage.Copies()
	require.Len(t, copies, 2)
	assert.Equal(t, "SC-100_shahlab", copies[0].Tag)
	assert.Equal(t, "SC-100_shahlab_results", copies[1].Tag)
}

func TestTransferEmptyListsMakeNoCalls(t *testing.T) {
	transferer, catalog, _, s := newTransferer()

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID: "SC-100",
		From:  "shahlab",
		To:    "singlecellblob",
	})

	require.NoError(t, err)
	assert.Empty(t, catalog.Log.Calls())
}

func TestTransferCopyFailureKeepsTag(t *testing.T) {
	transferer, catalog, storage, s := newTransferer()
	storage.Err = errors.New("blob service unavailable")

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID:      "SC-100",
		DatasetIDs: []int64{1},
		From:       "singlecellblob",
		To:         "shahlab",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.Err))
	label, ok := lib.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "Transferring files from singlecellblob to shahlab", label)

	var sErr *lib.SisyphusError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, lib.CategoryTransfer, sErr.Category)

	_, tagged := catalog.Tags()["SC-100_singlecellblob"]
	assert.True(t, tagged, "no rollback of the tag")
}

func TestTransferTagFailureSkipsCopy(t *testing.T) {
	transferer, catalog, storage, s := newTransferer()
	catalog.TagErr = errors.New("catalog read-only")

	err := transferer.Transfer(context.Background(), s, pipeline.TransferRequest{
		RunID:      "SC-100",
		DatasetIDs: []int64{1},
		From:       "singlecellblob",
		To:         "shahlab",
	})

	require.Error(t, err)
	label, _ := lib.FailedStep(err)
	assert.Equal(t, "Tagging singlecellblob files as SC-100_singlecellblob", label)
	assert.Empty(t, storage.Copies())
}
