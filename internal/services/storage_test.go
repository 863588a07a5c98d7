package services_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFSBackendRejectsKeysOutsideRoot(t *testing.T) {
	b := services.NewFSBackend(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../outside"} {
		_, _, err := b.Stat(ctx, key)
		assert.Error(t, err, "key %q", key)
		assert.Error(t, b.Write(ctx, key, strings.NewReader("x"), 1), "key %q", key)
	}
}

func TestFSBackendWriteAndRead(t *testing.T) {
	root := t.TempDir()
	b := services.NewFSBackend(root)
	ctx := context.Background()

	_, exists, err := b.Stat(ctx, "results/SC-100/metrics.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Write(ctx, "results/SC-100/metrics.csv", strings.NewReader("cell,reads\n"), 11))

	size, exists, err := b.Stat(ctx, "results/SC-100/metrics.csv")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(11), size)

	r, n, err := b.Open(ctx, "results/SC-100/metrics.csv")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "cell,reads\n", string(data))
	assert.Equal(t, int64(11), n)

	entries, err := os.ReadDir(filepath.Join(root, "results", "SC-100"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFSBackendWriteStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	b := services.NewFSBackend(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Write(ctx, "a.bam", strings.NewReader("data"), 4)

	assert.ErrorIs(t, err, context.Canceled)
	_, exists, _ := b.Stat(context.Background(), "a.bam")
	assert.False(t, exists)
}

type storageEnv struct {
	catalog *services.SQLCatalog
	manager *services.StorageManager
	local   string
	remote  string
}

func newStorageEnv(t *testing.T) storageEnv {
	t.Helper()
	root := t.TempDir()
	cfg := testsupport.ProjectConfig(root)
	catalog := openCatalog(t)
	return storageEnv{
		catalog: catalog,
		manager: services.NewStorageManager(cfg.Storages, catalog, testsupport.Logger(), io.Discard).WithRetry(cfg.Retry),
		local:   filepath.Join(root, "local"),
		remote:  filepath.Join(root, "remote"),
	}
}

func (e storageEnv) tagRemoteDataset(t *testing.T, tag string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	var paths []string
	for path, content := range files {
		writeFile(t, filepath.Join(e.remote, path), content)
		paths = append(paths, path)
	}
	ds, err := e.catalog.CreateDataset(ctx, models.Dataset{
		Name: tag + "_ds", Kind: models.DatasetKindSequence, DatasetType: "FQ",
		LibraryID: "L1", Files: paths, Storages: []string{"remote"},
	})
	require.NoError(t, err)
	_, err = e.catalog.Tag(ctx, tag, []int64{ds.ID})
	require.NoError(t, err)
}

func TestStorageManagerCopiesTaggedFiles(t *testing.T) {
	env := newStorageEnv(t)
	ctx := context.Background()
	env.tagRemoteDataset(t, "SC-100_remote", map[string]string{
		"fastq/FC1_1_R1.fastq.gz": "read one",
		"fastq/FC1_1_R2.fastq.gz": "read two!",
	})

	require.NoError(t, env.manager.Copy(ctx, "SC-100_remote", "remote", "local"))

	data, err := os.ReadFile(filepath.Join(env.local, "fastq", "FC1_1_R2.fastq.gz"))
	require.NoError(t, err)
	assert.Equal(t, "read two!", string(data))

	files, err := env.catalog.TaggedFiles(ctx, "SC-100_remote")
	require.NoError(t, err)
	for _, f := range files {
		present, err := env.catalog.HasFileInstance(ctx, f.ID, "local")
		require.NoError(t, err)
		assert.True(t, present, f.Path)
		assert.NotZero(t, f.Size)
	}
}

func TestStorageManagerSkipsFilesAlreadyPresent(t *testing.T) {
	env := newStorageEnv(t)
	ctx := context.Background()
	env.tagRemoteDataset(t, "SC-100_remote", map[string]string{"fastq/a.fastq.gz": "abc"})
	require.NoError(t, env.manager.Copy(ctx, "SC-100_remote", "remote", "local"))

	// A second copy must not touch the source again
	require.NoError(t, os.Remove(filepath.Join(env.remote, "fastq", "a.fastq.gz")))
	assert.NoError(t, env.manager.Copy(ctx, "SC-100_remote", "remote", "local"))
}

func TestStorageManagerMissingSourceFile(t *testing.T) {
	env := newStorageEnv(t)
	ctx := context.Background()
	env.tagRemoteDataset(t, "SC-100_remote", map[string]string{"fastq/a.fastq.gz": "abc"})
	require.NoError(t, os.Remove(filepath.Join(env.remote, "fastq", "a.fastq.gz")))

	err := env.manager.Copy(ctx, "SC-100_remote", "remote", "local")

	require.Error(t, err)
	assert.True(t, errors.Is(err, lib.ErrNotFound))
}

func TestStorageManagerUnknownStorage(t *testing.T) {
	env := newStorageEnv(t)

	err := env.manager.Copy(context.Background(), "SC-100_remote", "remote", "tape")

	assert.True(t, errors.Is(err, lib.ErrConfiguration))
}

func TestStorageManagerReadFile(t *testing.T) {
	env := newStorageEnv(t)
	writeFile(t, filepath.Join(env.local, "results", "metadata.yaml"), "filenames: [a.bam]\n")

	data, err := env.manager.ReadFile(context.Background(), "local", "results/metadata.yaml")
	require.NoError(t, err)
	assert.Equal(t, "filenames: [a.bam]\n", string(data))

	_, err = env.manager.ReadFile(context.Background(), "local", "results/missing.yaml")
	assert.Error(t, err)
}

// fakeS3 serves path-style object requests from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodGet {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
				return
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3BackendRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(server.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	b := services.NewS3BackendWithClient(client, "singlecell", "/results/")
	ctx := context.Background()

	_, exists, err := b.Stat(ctx, "SC-100/metrics.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	// Non-seekable bodies are spooled before upload
	require.NoError(t, b.Write(ctx, "SC-100/metrics.csv", io.MultiReader(strings.NewReader("cell,"), strings.NewReader("reads")), -1))
	assert.Equal(t, []byte("cell,reads"), fake.objects["singlecell/results/SC-100/metrics.csv"])

	size, exists, err := b.Stat(ctx, "SC-100/metrics.csv")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(10), size)

	r, _, err := b.Open(ctx, "SC-100/metrics.csv")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	var got bytes.Buffer
	_, err = io.Copy(&got, r)
	require.NoError(t, err)
	assert.Equal(t, "cell,reads", got.String())

	assert.Error(t, b.Write(ctx, "../escape", strings.NewReader("x"), 1))
}
