// Package testsupport provides in-memory collaborators that count their calls
package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
)

// CallLog records collaborator calls in the order they happen.
// Fakes sharing one log make cross-collaborator ordering observable
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Record appends a call
func (l *CallLog) Record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

// Calls returns the recorded calls in order
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Count returns how often a call was recorded
func (l *CallLog) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Catalog is an in-memory catalog and lab catalog
type Catalog struct {
	mu sync.Mutex

	Log       *CallLog
	analyses  map[string]models.AnalysisRecord
	datasets  []models.Dataset
	tags      map[string]models.Tag
	libraries map[string]models.Library
	info      map[string]models.AnalysisInformation
	nextID    int64

	// BeforeCreateAnalysis runs before a record is stored, e.g. to let a concurrent
	// creator win the race
	BeforeCreateAnalysis func(rec models.AnalysisRecord)
	// TransitionHook runs before a transition is applied; a non-nil error aborts it
	TransitionHook func(name string, from, to models.AnalysisStatus) error
	TagErr         error
	ListDatasetErr error
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		Log:       &CallLog{},
		analyses:  make(map[string]models.AnalysisRecord),
		tags:      make(map[string]models.Tag),
		libraries: make(map[string]models.Library),
		info:      make(map[string]models.AnalysisInformation),
	}
}

func (c *Catalog) id() int64 {
	c.nextID++
	return c.nextID
}

// PutLibrary stores a library
func (c *Catalog) PutLibrary(l models.Library) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.libraries[l.ID] = l
}

// PutDataset stores a dataset and returns it with its id
func (c *Catalog) PutDataset(ds models.Dataset) models.Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds.ID = c.id()
	c.datasets = append(c.datasets, ds)
	return ds
}

// PutAnalysis stores a record as is, bypassing conflict checks
func (c *Catalog) PutAnalysis(rec models.AnalysisRecord) models.AnalysisRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = c.id()
	}
	c.analyses[rec.Name] = rec
	return rec
}

// Analysis returns a stored record
func (c *Catalog) Analysis(name string) (models.AnalysisRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.analyses[name]
	return rec, ok
}

// Analyses returns every stored record
func (c *Catalog) Analyses() []models.AnalysisRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.AnalysisRecord, 0, len(c.analyses))
	for _, rec := range c.analyses {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tags returns the stored tags by name
func (c *Catalog) Tags() map[string]models.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.Tag, len(c.tags))
	for k, v := range c.tags {
		out[k] = v
	}
	return out
}

// Datasets returns every stored dataset
func (c *Catalog) Datasets() []models.Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Dataset(nil), c.datasets...)
}

// AnalysisInformation returns the mirrored information of a ticket
func (c *Catalog) AnalysisInformation(ticket string) (models.AnalysisInformation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.info[ticket]
	return info, ok
}

// GetAnalysis implements the catalog lookup
func (c *Catalog) GetAnalysis(_ context.Context, name string) (models.Lookup[models.AnalysisRecord], error) {
	c.Log.Record("GetAnalysis")
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.analyses[name]
	if !ok {
		return models.NotFound[models.AnalysisRecord](), nil
	}
	return models.Found(rec), nil
}

// CreateAnalysis stores a record, rejecting taken names with a conflict
func (c *Catalog) CreateAnalysis(_ context.Context, rec models.AnalysisRecord) (models.AnalysisRecord, error) {
	c.Log.Record("CreateAnalysis")
	if c.BeforeCreateAnalysis != nil {
		c.BeforeCreateAnalysis(rec)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.analyses[rec.Name]; taken {
		return models.AnalysisRecord{}, lib.ErrDuplicateRecord("analysis", rec.Name, nil)
	}
	if err := rec.Validate(); err != nil {
		return models.AnalysisRecord{}, err
	}
	now := time.Now()
	rec.ID = c.id()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	c.analyses[rec.Name] = rec
	return rec, nil
}

// UpdateAnalysis writes non-status fields
func (c *Catalog) UpdateAnalysis(_ context.Context, name string, update models.AnalysisUpdate) (models.AnalysisRecord, error) {
	c.Log.Record("UpdateAnalysis")
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.analyses[name]
	if !ok {
		return models.AnalysisRecord{}, lib.ErrAnalysisNotFound(name)
	}
	rec = models.ApplyUpdate(rec, update)
	c.analyses[name] = rec
	return rec, nil
}

// TransitionAnalysis is a compare-and-set on the stored status
func (c *Catalog) TransitionAnalysis(_ context.Context, name string, from, to models.AnalysisStatus, update models.AnalysisUpdate) (models.AnalysisRecord, error) {
	c.Log.Record("TransitionAnalysis:" + string(to))
	if c.TransitionHook != nil {
		if err := c.TransitionHook(name, from, to); err != nil {
			return models.AnalysisRecord{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !from.CanTransitionTo(to) {
		return models.AnalysisRecord{}, lib.ErrInvalidTransition(name, string(from), string(to))
	}
	rec, ok := c.analyses[name]
	if !ok {
		return models.AnalysisRecord{}, lib.ErrAnalysisNotFound(name)
	}
	if rec.Status != from {
		return models.AnalysisRecord{}, lib.ErrStaleTransition(name, string(from), string(to), string(rec.Status))
	}
	rec = models.ApplyUpdate(models.WithStatus(rec, to), update)
	c.analyses[name] = rec
	return rec, nil
}

// ListAnalyses returns matching records in creation order
func (c *Catalog) ListAnalyses(_ context.Context, filter models.AnalysisFilter) ([]models.AnalysisRecord, error) {
	c.Log.Record("ListAnalyses")
	var out []models.AnalysisRecord
	for _, rec := range c.Analyses() {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.LibraryID != "" && rec.LibraryID != filter.LibraryID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListDatasets returns datasets matching the filter
func (c *Catalog) ListDatasets(_ context.Context, filter models.DatasetFilter) ([]models.Dataset, error) {
	c.Log.Record("ListDatasets")
	if c.ListDatasetErr != nil {
		return nil, c.ListDatasetErr
	}
	var out []models.Dataset
	for _, ds := range c.Datasets() {
		if matchesDataset(ds, filter) {
			out = append(out, ds)
		}
	}
	return out, nil
}

func matchesDataset(ds models.Dataset, f models.DatasetFilter) bool {
	switch {
	case f.Kind != "" && ds.Kind != f.Kind,
		f.DatasetType != "" && ds.DatasetType != f.DatasetType,
		f.LibraryID != "" && ds.LibraryID != f.LibraryID,
		f.ReferenceGenome != "" && ds.ReferenceGenome != f.ReferenceGenome,
		f.Aligner != "" && ds.Aligner != f.Aligner,
		f.AnalysisID != 0 && ds.AnalysisID != f.AnalysisID:
		return false
	}
	if len(f.Lanes) == 0 {
		return true
	}
	for _, want := range f.Lanes {
		for _, have := range ds.Lanes {
			if want == have {
				return true
			}
		}
	}
	return false
}

// CreateDataset stores a dataset, rejecting taken names with a conflict
func (c *Catalog) CreateDataset(_ context.Context, ds models.Dataset) (models.Dataset, error) {
	c.Log.Record("CreateDataset")
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.datasets {
		if existing.Name == ds.Name {
			return models.Dataset{}, lib.ErrDuplicateRecord("dataset", ds.Name, nil)
		}
	}
	ds.ID = c.id()
	c.datasets = append(c.datasets, ds)
	return ds, nil
}

// Tag creates or extends a tag
func (c *Catalog) Tag(_ context.Context, name string, datasetIDs []int64) (models.Tag, error) {
	c.Log.Record("Tag")
	if c.TagErr != nil {
		return models.Tag{}, c.TagErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.tags[name]
	if !ok {
		tag = models.Tag{ID: c.id(), Name: name, CreatedAt: time.Now()}
	}
	for _, id := range datasetIDs {
		member := false
		for _, m := range tag.MemberIDs {
			member = member || m == id
		}
		if !member {
			tag.MemberIDs = append(tag.MemberIDs, id)
		}
	}
	c.tags[name] = tag
	return tag, nil
}

// GetLibrary implements the lab lookup
func (c *Catalog) GetLibrary(_ context.Context, libraryID string) (models.Lookup[models.Library], error) {
	c.Log.Record("GetLibrary")
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.libraries[libraryID]
	if !ok {
		return models.NotFound[models.Library](), nil
	}
	return models.Found(l), nil
}

// ListLibraries returns the libraries not excluded from analysis
func (c *Catalog) ListLibraries(_ context.Context) ([]models.Library, error) {
	c.Log.Record("ListLibraries")
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Library
	for _, l := range c.libraries {
		if !l.ExcludeFromAnalysis {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateAnalysisInformation mirrors an analysis, rejecting known tickets with a conflict
func (c *Catalog) CreateAnalysisInformation(_ context.Context, info models.AnalysisInformation) error {
	c.Log.Record("CreateAnalysisInformation")
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.info[info.JiraTicket]; ok {
		return lib.ErrDuplicateRecord("analysis information", info.JiraTicket, nil)
	}
	c.info[info.JiraTicket] = info
	return nil
}

// UpdateAnalysisInformationStatus sets the mirrored run status
func (c *Catalog) UpdateAnalysisInformationStatus(_ context.Context, jiraTicket string, status models.AnalysisStatus) error {
	c.Log.Record("UpdateAnalysisInformationStatus")
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.info[jiraTicket]
	if !ok {
		return nil
	}
	info.RunStatus = string(status)
	c.info[jiraTicket] = info
	return nil
}
