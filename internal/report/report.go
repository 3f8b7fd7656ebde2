// Package report renders repositories, sync results and metrics as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"git-metrics/internal/metrics"
	"git-metrics/internal/model"
)

// Printer writes tables to W. Colors are applied only when UseColors is set.
type Printer struct {
	W         io.Writer
	UseColors bool
}

func (p Printer) paint(attrs ...color.Attribute) func(...any) string {
	if !p.UseColors {
		return fmt.Sprint
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.SprintFunc()
}

func (p Printer) table(headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(p.W)
	defer func() { _ = table.Close() }()

	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (p Printer) heading(title string) error {
	bold := p.paint(color.Bold)
	_, err := fmt.Fprintf(p.W, "\n%s\n", bold(title))
	return err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Repositories prints registered repositories with their sync state.
func (p Printer) Repositories(repos []model.Repository, statuses map[int64]model.SyncStatus) error {
	green := p.paint(color.FgGreen)
	red := p.paint(color.FgRed)
	yellow := p.paint(color.FgYellow)

	rows := make([][]string, 0, len(repos))
	for _, r := range repos {
		state := string(statuses[r.ID].State)
		switch statuses[r.ID].State {
		case model.SyncCompleted:
			state = green(state)
		case model.SyncError:
			state = red(state)
		case model.SyncRunning:
			state = yellow(state)
		}
		active := "yes"
		if !r.IsActive {
			active = "no"
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Name,
			string(r.Provider),
			active,
			formatTime(r.SyncedAt),
			state,
		})
	}
	return p.table([]string{"ID", "Name", "Provider", "Active", "Synced At", "Sync"}, rows)
}

// SyncStatus prints the outcome of one sync run.
func (p Printer) SyncStatus(s model.SyncStatus) error {
	state := string(s.State)
	if s.State == model.SyncError {
		state = p.paint(color.FgRed, color.Bold)(state)
	} else if s.State == model.SyncCompleted {
		state = p.paint(color.FgGreen)(state)
	}
	_, err := fmt.Fprintf(p.W, "Repository %d: %s, %d commits processed (%d%%) %s\n",
		s.RepositoryID, state, s.CommitsProcessed, s.Progress, s.Message)
	return err
}

// Comprehensive prints the headline sections of a comprehensive report.
func (p Printer) Comprehensive(c metrics.Comprehensive) error {
	s := c.Summary
	if _, err := fmt.Fprintf(p.W, "%s (%s)\nCommits: %d, Contributors: %d, Lines changed: %d, First: %s, Last: %s\n",
		s.Name, s.URL, s.TotalCommits, s.TotalContributors, s.TotalLinesChanged,
		formatTime(s.FirstCommit), formatTime(s.LastCommit)); err != nil {
		return err
	}

	if err := p.heading(fmt.Sprintf("Bus factor: %d", c.BusFactor.BusFactor)); err != nil {
		return err
	}
	if err := p.busFactor(c.BusFactor); err != nil {
		return err
	}

	if err := p.heading("Contributors"); err != nil {
		return err
	}
	if err := p.contributors(c.Contributors.TopContributors); err != nil {
		return err
	}

	if err := p.heading(fmt.Sprintf("Velocity (trend %s%%)", p.trend(c.Velocity.CommitTrendPercentage))); err != nil {
		return err
	}
	if err := p.velocity(c.Velocity); err != nil {
		return err
	}

	if err := p.heading(fmt.Sprintf("Churn, last %d days: %d", c.Churn.PeriodDays, c.Churn.TotalChurn)); err != nil {
		return err
	}
	if err := p.churn(c.Churn); err != nil {
		return err
	}

	q := c.QualityIndicators
	_, err := fmt.Fprintf(p.W, "\nAverage commit size: %s, files per commit: %s, message quality: %s\n",
		formatFloat(q.AverageCommitSize), formatFloat(q.AverageFilesPerCommit), formatFloat(q.MessageQualityScore))
	return err
}

func (p Printer) trend(v float64) string {
	switch {
	case v > 0:
		return p.paint(color.FgGreen)("+" + formatFloat(v))
	case v < 0:
		return p.paint(color.FgRed)(formatFloat(v))
	default:
		return formatFloat(v)
	}
}

func (p Printer) busFactor(b metrics.BusFactorReport) error {
	critical := p.paint(color.FgRed, color.Bold)
	rows := make([][]string, 0, len(b.HighRiskFiles))
	for _, f := range b.HighRiskFiles {
		rows = append(rows, []string{
			f.FilePath,
			f.PrimaryOwner,
			critical(formatFloat(f.OwnershipPercentage)),
			strconv.Itoa(f.TotalChanges),
			strconv.Itoa(f.TotalLinesChanged),
		})
	}
	if err := p.table([]string{"File", "Owner", "Ownership %", "Changes", "Lines"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.W, "%d of %d files have a single owner (%s%%)\n",
		b.FilesWithSingleOwner, b.TotalFiles, formatFloat(b.SingleOwnerPercentage))
	return err
}

func (p Printer) contributors(list []metrics.ContributorInsight) error {
	core := p.paint(color.FgMagenta, color.Bold)
	rows := make([][]string, 0, len(list))
	for i, c := range list {
		role := string(c.Role)
		if c.Role == metrics.RoleCore {
			role = core(role)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.AuthorEmail,
			strconv.Itoa(c.TotalCommits),
			strconv.Itoa(c.TotalLinesChanged),
			formatFloat(c.CommitPercentage),
			role,
		})
	}
	return p.table([]string{"Rank", "Author", "Commits", "Lines", "Commit %", "Role"}, rows)
}

func (p Printer) velocity(v metrics.VelocityReport) error {
	rows := make([][]string, 0, len(v.WeeklyMetrics))
	for _, w := range v.WeeklyMetrics {
		rows = append(rows, []string{
			w.Week,
			strconv.Itoa(w.Commits),
			strconv.Itoa(w.LinesChanged),
			strconv.Itoa(w.ActiveContributors),
		})
	}
	return p.table([]string{"Week", "Commits", "Lines", "Contributors"}, rows)
}

func (p Printer) churn(c metrics.ChurnReport) error {
	rows := make([][]string, 0, len(c.FileChurn))
	for _, f := range c.FileChurn {
		rows = append(rows, []string{
			f.FilePath,
			strconv.Itoa(f.Churn),
			strconv.Itoa(f.ChangeFrequency),
			strconv.Itoa(f.Contributors),
		})
	}
	return p.table([]string{"File", "Churn", "Changes", "Contributors"}, rows)
}
