package models

// Library is a sequencing preparation unit (pool) whose data arrives in lanes
type Library struct {
	ID                  string       `json:"pool_id" yaml:"pool_id"`
	SampleID            string       `json:"sample_id" yaml:"sample_id"`
	TaxonomyID          string       `json:"taxonomy_id" yaml:"taxonomy_id"`
	JiraTicket          string       `json:"jira_ticket" yaml:"jira_ticket"`
	ExcludeFromAnalysis bool         `json:"exclude_from_analysis" yaml:"exclude_from_analysis"`
	Sequencings         []Sequencing `json:"sequencings" yaml:"sequencings"`
}

// Sequencing is one sequencing request attached to a library
type Sequencing struct {
	ID             int64  `json:"id" yaml:"id"`
	LanesRequested int    `json:"number_of_lanes_requested" yaml:"number_of_lanes_requested"`
	Lanes          []Lane `json:"lanes" yaml:"lanes"`
}

// Lane is one unit of sequencing output from one flow cell position
type Lane struct {
	ID         int64  `json:"id" yaml:"id"`
	FlowCellID string `json:"flow_cell_id" yaml:"flow_cell_id"`
	LaneNumber string `json:"lane_number" yaml:"lane_number"`
}

// AnalysisInformation mirrors an analysis into the lab catalog on first creation
type AnalysisInformation struct {
	LibraryID       string   `json:"library_id"`
	JiraTicket      string   `json:"analysis_jira_ticket"`
	Version         string   `json:"version"`
	ReferenceGenome string   `json:"reference_genome"`
	Aligner         string   `json:"aligner"`
	Priority        string   `json:"priority"`
	Smoothing       string   `json:"smoothing"`
	SequencingIDs   []int64  `json:"sequencings"`
	LaneIDs         []int64  `json:"lanes"`
	RunStatus       string   `json:"run_status"`
	LaneLabels      []string `json:"-"`
}

// LaneLabel is the identifier used for a lane in fingerprints and dataset filters
func (l Lane) LaneLabel() string {
	if l.LaneNumber == "" {
		return l.FlowCellID
	}
	return l.FlowCellID + "_" + l.LaneNumber
}

// SequencingIDs returns the ids of every sequencing attached to the library
func (l *Library) SequencingIDs() []int64 {
	ids := make([]int64, 0, len(l.Sequencings))
	for _, s := range l.Sequencings {
		ids = append(ids, s.ID)
	}
	return ids
}

// LaneIDs returns the distinct lane ids across all sequencings
func (l *Library) LaneIDs() []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, s := range l.Sequencings {
		for _, lane := range s.Lanes {
			if !seen[lane.ID] {
				seen[lane.ID] = true
				ids = append(ids, lane.ID)
			}
		}
	}
	return ids
}
