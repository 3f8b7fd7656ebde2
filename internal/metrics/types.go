package metrics

import (
	"time"

	"git-metrics/internal/model"
)

// RepositorySummary is the headline view of one repository.
type RepositorySummary struct {
	ID                int64              `json:"id"`
	Name              string             `json:"name"`
	URL               string             `json:"url"`
	Provider          model.ProviderKind `json:"provider"`
	LastSync          *time.Time         `json:"last_sync"`
	SyncedAt          *time.Time         `json:"synced_at"`
	TotalCommits      int                `json:"total_commits"`
	TotalContributors int                `json:"total_contributors"`
	TotalLinesAdded   int                `json:"total_lines_added"`
	TotalLinesDeleted int                `json:"total_lines_deleted"`
	TotalLinesChanged int                `json:"total_lines_changed"`
	FirstCommit       *time.Time         `json:"first_commit"`
	LastCommit        *time.Time         `json:"last_commit"`
}

type FileChurn struct {
	FilePath        string `json:"file_path"`
	Churn           int    `json:"churn"`
	ChangeFrequency int    `json:"change_frequency"`
	Contributors    int    `json:"contributors"`
}

type DeveloperChurn struct {
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Churn       int    `json:"churn"`
	Added       int    `json:"added"`
	Deleted     int    `json:"deleted"`
	Commits     int    `json:"commits"`
}

// ChurnReport covers the trailing PeriodDays days.
type ChurnReport struct {
	TotalChurn     int              `json:"total_churn"`
	FileChurn      []FileChurn      `json:"file_churn"`
	DeveloperChurn []DeveloperChurn `json:"developer_churn"`
	PeriodDays     int              `json:"period_days"`
}

// WeekMetric is one ISO-week velocity bucket.
type WeekMetric struct {
	Week               string    `json:"week"`
	WeekStart          time.Time `json:"week_start"`
	Commits            int       `json:"commits"`
	LinesAdded         int       `json:"lines_added"`
	LinesDeleted       int       `json:"lines_deleted"`
	LinesChanged       int       `json:"lines_changed"`
	ActiveContributors int       `json:"active_contributors"`
}

type VelocityReport struct {
	WeeklyMetrics         []WeekMetric `json:"weekly_metrics"`
	CommitTrendPercentage float64      `json:"commit_trend_percentage"`
	WeeksAnalyzed         int          `json:"weeks_analyzed"`
}

// FileRisk is a file dominated by one contributor.
type FileRisk struct {
	FilePath            string  `json:"file_path"`
	PrimaryOwner        string  `json:"primary_owner"`
	OwnershipPercentage float64 `json:"ownership_percentage"`
	TotalChanges        int     `json:"total_changes"`
	TotalLinesChanged   int     `json:"total_lines_changed"`
}

type ContributorShare struct {
	AuthorName   string    `json:"author_name"`
	AuthorEmail  string    `json:"author_email"`
	TotalCommits int       `json:"total_commits"`
	LinesChanged int       `json:"total_lines_changed"`
	Percentage   float64   `json:"percentage"`
	FirstCommit  time.Time `json:"first_commit_date"`
}

type BusFactorReport struct {
	BusFactor               int                `json:"bus_factor"`
	TotalFiles              int                `json:"total_files"`
	FilesWithSingleOwner    int                `json:"files_with_single_owner"`
	SingleOwnerPercentage   float64            `json:"single_owner_percentage"`
	HighRiskFiles           []FileRisk         `json:"high_risk_files"`
	ContributorDistribution []ContributorShare `json:"contributor_distribution"`
}

// CommitPatterns holds UTC hour-of-day and weekday (0 = Sunday) histograms.
type CommitPatterns struct {
	HourlyDistribution [24]int `json:"hourly_distribution"`
	DailyDistribution  [7]int  `json:"daily_distribution"`
	PeakHour           int     `json:"peak_hour"`
	PeakDay            int     `json:"peak_day"`
	TotalCommits       int     `json:"total_commits"`
}

type QualityReport struct {
	AverageCommitSize     float64             `json:"average_commit_size"`
	AverageFilesPerCommit float64             `json:"average_files_per_commit"`
	MessageQualityScore   float64             `json:"message_quality_score"`
	FileHotspots          []model.FileHotspot `json:"file_hotspots"`
}

// Role classifies a contributor by share and tenure.
type Role string

const (
	RoleCore       Role = "core"
	RoleRegular    Role = "regular"
	RoleOccasional Role = "occasional"
)

type ContributorInsight struct {
	AuthorName        string    `json:"author_name"`
	AuthorEmail       string    `json:"author_email"`
	TotalCommits      int       `json:"total_commits"`
	TotalLinesAdded   int       `json:"total_lines_added"`
	TotalLinesDeleted int       `json:"total_lines_deleted"`
	TotalLinesChanged int       `json:"total_lines_changed"`
	FirstCommitDate   time.Time `json:"first_commit_date"`
	LastCommitDate    time.Time `json:"last_commit_date"`
	DaysActive        int       `json:"days_active"`
	FilesTouched      int       `json:"files_touched"`
	CommitPercentage  float64   `json:"commit_percentage"`
	LinesPercentage   float64   `json:"lines_percentage"`
	AvgCommitSize     float64   `json:"avg_commit_size"`
	Role              Role      `json:"role"`
}

type ContributorReport struct {
	TotalContributors            int                  `json:"total_contributors"`
	ActiveContributorsLast30Days int                  `json:"active_contributors_last_30_days"`
	Contributors                 []ContributorInsight `json:"contributors"`
	TopContributors              []ContributorInsight `json:"top_contributors"`
}

// Comprehensive bundles every per-repository report.
type Comprehensive struct {
	Summary           RepositorySummary `json:"summary"`
	Churn             ChurnReport       `json:"churn"`
	Velocity          VelocityReport    `json:"velocity"`
	BusFactor         BusFactorReport   `json:"bus_factor"`
	CommitPatterns    CommitPatterns    `json:"commit_patterns"`
	QualityIndicators QualityReport     `json:"quality_indicators"`
	Contributors      ContributorReport `json:"contributors"`
}

type OverallSummary struct {
	TotalRepositories int        `json:"total_repositories"`
	TotalCommits      int        `json:"total_commits"`
	TotalContributors int        `json:"total_contributors"`
	TotalLinesAdded   int        `json:"total_lines_added"`
	TotalLinesDeleted int        `json:"total_lines_deleted"`
	TotalLinesChanged int        `json:"total_lines_changed"`
	FirstCommit       *time.Time `json:"first_commit"`
	LastCommit        *time.Time `json:"last_commit"`
}

type AllSummary struct {
	Overall      OverallSummary      `json:"overall"`
	Repositories []RepositorySummary `json:"repositories"`
}

// ComparisonMetric names the value repositories are ranked by.
type ComparisonMetric string

const (
	CompareCommits      ComparisonMetric = "commits"
	CompareContributors ComparisonMetric = "contributors"
	CompareChurn        ComparisonMetric = "churn"
)

type ComparisonEntry struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// ContributorRepository is one repository a contributor committed to.
type ContributorRepository struct {
	ID                int64     `json:"id"`
	Name              string    `json:"repo_name"`
	TotalCommits      int       `json:"total_commits"`
	TotalLinesAdded   int       `json:"total_lines_added"`
	TotalLinesDeleted int       `json:"total_lines_deleted"`
	TotalLinesChanged int       `json:"total_lines_changed"`
	FirstCommitDate   time.Time `json:"first_commit_date"`
	LastCommitDate    time.Time `json:"last_commit_date"`
}

// CrossContributor is a contributor merged across repositories by normalized email.
type CrossContributor struct {
	AuthorName        string                  `json:"author_name"`
	AuthorEmail       string                  `json:"author_email"`
	RepositoriesCount int                     `json:"repositories_count"`
	TotalCommits      int                     `json:"total_commits"`
	TotalLinesAdded   int                     `json:"total_lines_added"`
	TotalLinesDeleted int                     `json:"total_lines_deleted"`
	TotalLinesChanged int                     `json:"total_lines_changed"`
	FirstCommitDate   time.Time               `json:"first_commit_date"`
	LastCommitDate    time.Time               `json:"last_commit_date"`
	Repositories      []ContributorRepository `json:"repositories"`
}

type RepositoryChurn struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Churn   int    `json:"churn"`
	Commits int    `json:"commits"`
}

type CrossContributorChurn struct {
	AuthorName   string `json:"author_name"`
	AuthorEmail  string `json:"author_email"`
	Churn        int    `json:"churn"`
	Repositories int    `json:"repositories"`
	Commits      int    `json:"commits"`
}

type AllChurnReport struct {
	TotalChurn       int                     `json:"total_churn"`
	PeriodDays       int                     `json:"period_days"`
	RepositoryChurn  []RepositoryChurn       `json:"repository_churn"`
	ContributorChurn []CrossContributorChurn `json:"contributor_churn"`
}

type ActivityDay struct {
	Date         string `json:"date"`
	Commits      int    `json:"commits"`
	LinesChanged int    `json:"lines_changed"`
}

// ContributorDetail is one contributor across all active repositories.
type ContributorDetail struct {
	CrossContributor
	RecentActivity []ActivityDay `json:"recent_activity"`
}
