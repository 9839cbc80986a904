package crawler

import "time"

// CatalogRecord is one summary entry on a paginated catalog listing.
type CatalogRecord struct {
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	Status          string `json:"status,omitempty"`
	Category        string `json:"category,omitempty"`
	SecondaryStatus string `json:"secondary_status,omitempty"`
}

// DetailRecord fully describes one title, including its ordered children.
type DetailRecord struct {
	Slug            string      `json:"slug"`
	Title           string      `json:"title"`
	AlternateTitles string      `json:"alternate_titles,omitempty"`
	Poster          string      `json:"poster,omitempty"`
	Rating          string      `json:"rating,omitempty"`
	TrailerURL      string      `json:"trailer_url,omitempty"`
	Status          string      `json:"status,omitempty"`
	Studio          string      `json:"studio,omitempty"`
	ReleaseDate     string      `json:"release_date,omitempty"`
	Duration        string      `json:"duration,omitempty"`
	Season          string      `json:"season,omitempty"`
	Category        string      `json:"category,omitempty"`
	TotalChildren   string      `json:"total_children,omitempty"`
	Director        string      `json:"director,omitempty"`
	Casts           []string    `json:"casts"`
	Genres          []string    `json:"genres"`
	Synopsis        string      `json:"synopsis,omitempty"`
	Children        []ChildItem `json:"children"`
}

// Empty reports whether the parsed detail carried no identifying content.
// An empty title is treated as a missing page.
func (d DetailRecord) Empty() bool {
	return d.Title == ""
}

// ChildItem is one ordered entry (an episode) belonging to a DetailRecord.
type ChildItem struct {
	Slug          string `json:"slug"`
	Number        string `json:"number,omitempty"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url"`
	ReleaseMarker string `json:"release_marker,omitempty"`
}

// LeafRecord is one playable source belonging to a ChildItem.
type LeafRecord struct {
	Server  string `json:"server"`
	Quality string `json:"quality"`
	URL     string `json:"url"`
}

// ChildPage is the parsed form of a child's sub-resource page.
type ChildPage struct {
	Slug          string       `json:"slug"`
	Title         string       `json:"title"`
	DefaultSource string       `json:"default_source,omitempty"`
	Leaves        []LeafRecord `json:"sources"`
}

// FetchResult is a successful page retrieval.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Identity   string
	Attempts   int
	Duration   time.Duration
}

// Termination names why a bulk run stopped.
type Termination string

// Termination values reported on a RunSummary.
const (
	TerminationEndOfCatalog Termination = "end_of_catalog"
	TerminationPageLimit    Termination = "page_limit"
	TerminationCanceled     Termination = "canceled"
)

// RunSummary aggregates the outcome of one bulk run. Errors holds one entry
// per skipped unit of work; a run never aborts on them.
type RunSummary struct {
	RunID          string      `json:"run_id"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	PagesProcessed int         `json:"pages_processed"`
	CatalogRecords int         `json:"catalog_records"`
	Items          int         `json:"items"`
	Children       int         `json:"children"`
	LeafRecords    int         `json:"leaf_records"`
	Errors         []string    `json:"errors"`
	Termination    Termination `json:"termination"`
}

// RunRequest asks the worker to execute one bulk run.
type RunRequest struct {
	RunID     string    `json:"run_id"`
	Trigger   string    `json:"trigger"`
	Submitted time.Time `json:"submitted_at"`
}
