// Package scrape defines core types shared across subsystems.
package scrape

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values held in the job store. The three right-hand states are
// terminal; no transition leaves a terminal state.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ExportFormat enumerates supported export file formats.
type ExportFormat string

// Supported export formats.
const (
	FormatJSON  ExportFormat = "json"
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "excel"
)

// Valid reports whether f is a supported format.
func (f ExportFormat) Valid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatExcel:
		return true
	default:
		return false
	}
}

// Options captures per-job configuration knobs requested by the client.
type Options struct {
	Token          string `json:"-"`
	MaxRepos       int    `json:"max_repos"`
	IncludeReadme  bool   `json:"include_readme"`
	TruncateReadme bool   `json:"truncate_readme"`
	TruncateLength int    `json:"truncate_length,omitempty"`
}

// Job represents the metadata tracked for each submitted scrape request.
type Job struct {
	ID              string       `json:"id"`
	Username        string       `json:"username"`
	Status          JobStatus    `json:"status"`
	Options         Options      `json:"options"`
	ExportFormat    ExportFormat `json:"export_format,omitempty"`
	Progress        int          `json:"progress"`
	Result          *Result      `json:"result,omitempty"`
	ErrorText       string       `json:"error,omitempty"`
	ExportFiles     []string     `json:"export_files"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
}

// Profile holds the public fields of a GitHub user profile.
type Profile struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Email       string `json:"email,omitempty"`
	Blog        string `json:"blog,omitempty"`
	Twitter     string `json:"twitter_username,omitempty"`
	PublicRepos int    `json:"public_repos"`
	PublicGists int    `json:"public_gists"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	HTMLURL     string `json:"html_url"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Repository holds the fields retained per public repository.
type Repository struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	HTMLURL       string `json:"html_url"`
	Stars         int    `json:"stars"`
	Forks         int    `json:"forks"`
	Watchers      int    `json:"watchers"`
	Language      string `json:"language,omitempty"`
	OpenIssues    int    `json:"open_issues"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	SizeKB        int    `json:"size"`
	DefaultBranch string `json:"default_branch"`
	IsFork        bool   `json:"is_fork"`
	Readme        string `json:"readme_content,omitempty"`
}

// Result is the aggregate produced by a complete scrape.
type Result struct {
	Username     string         `json:"username"`
	Profile      *Profile       `json:"profile"`
	Repositories []Repository   `json:"repositories"`
	TotalStars   int            `json:"total_stars"`
	TotalForks   int            `json:"total_forks"`
	TopLanguages map[string]int `json:"top_languages"`
}
