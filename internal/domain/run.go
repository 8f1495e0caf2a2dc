package domain

// WorkflowRun represents one CI run candidate as reported by the gh CLI.
// Field names and JSON tags mirror `gh run list --json`.
type WorkflowRun struct {
	DatabaseID   int64  `json:"databaseId"`
	Status       string `json:"status"`
	Conclusion   string `json:"conclusion"`
	CreatedAt    string `json:"createdAt"`
	WorkflowName string `json:"workflowName"`
	DisplayTitle string `json:"displayTitle"`
	HTMLURL      string `json:"htmlUrl"`
}

// IsCompleted reports whether the run has finished its lifecycle.
func (r *WorkflowRun) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// SelectionItem is the per-repository record within the manifest.
// Exactly one exists per input repository, in input order.
type SelectionItem struct {
	Repo           string       `json:"repo"`
	WorkflowFilter string       `json:"workflow_filter"`
	SelectedRun    *WorkflowRun `json:"selected_run"`
	DownloadOK     bool         `json:"download_ok"`
	Error          string       `json:"error,omitempty"`
}

// Manifest is the aggregate document summarizing one collection batch.
// It is written exactly once, after every repository has been processed.
type Manifest struct {
	UTCStart       string          `json:"utc_start"`
	UTCEnd         string          `json:"utc_end"`
	ReposFile      string          `json:"repos_file"`
	WorkflowFilter string          `json:"workflow_filter"`
	Items          []SelectionItem `json:"items"`
}

// DownloadsOK counts items whose artifact download succeeded.
func (m *Manifest) DownloadsOK() int {
	n := 0
	for _, it := range m.Items {
		if it.DownloadOK {
			n++
		}
	}
	return n
}

// Failures counts items that recorded an error.
func (m *Manifest) Failures() int {
	n := 0
	for _, it := range m.Items {
		if it.Error != "" {
			n++
		}
	}
	return n
}
