package database

import (
	"context"
	"strings"
	"time"

	"git-metrics/internal/model"
)

const commitColumns = `id, repository_id, hash, author_name, author_email, committer_name,
	committer_email, message, authored_at, lines_added, lines_deleted, files_changed`

// CommitFilter narrows a commit range scan. Zero fields do not filter.
type CommitFilter struct {
	RepositoryIDs []int64
	// Since is inclusive, Until exclusive.
	Since       *time.Time
	Until       *time.Time
	AuthorEmail string
	WithFiles   bool
}

// ExistingHashes returns the subset of hashes already stored for the repository.
func (q *Queries) ExistingHashes(ctx context.Context, repositoryID int64, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}
	args := make([]any, 0, len(hashes)+1)
	args = append(args, repositoryID)
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := q.query(ctx, `SELECT hash FROM commits WHERE repository_id = ? AND hash IN (`+placeholders(len(hashes))+`)`, args...)
	if err != nil {
		return nil, classify("database.ExistingHashes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, classify("database.ExistingHashes", err)
		}
		found[h] = true
	}
	return found, classify("database.ExistingHashes", rows.Err())
}

// InsertCommit stores a commit, skipping it when the hash is already stored
// for the repository. It returns the row id either way, and whether a row was written.
func (q *Queries) InsertCommit(ctx context.Context, c model.Commit) (int64, bool, error) {
	var stmt string
	switch q.dialect {
	case MySQL:
		stmt = `INSERT INTO commits (repository_id, hash, author_name, author_email, committer_name,
				committer_email, message, authored_at, lines_added, lines_deleted, files_changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE id = id`
	default:
		stmt = `INSERT INTO commits (repository_id, hash, author_name, author_email, committer_name,
				committer_email, message, authored_at, lines_added, lines_deleted, files_changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository_id, hash) DO NOTHING`
	}
	res, err := q.exec(ctx, stmt,
		c.RepositoryID, c.Hash, c.AuthorName, model.NormalizeEmail(c.AuthorEmail), c.CommitterName,
		model.NormalizeEmail(c.CommitterEmail), c.Message, q.ts(c.AuthoredAt),
		c.LinesAdded, c.LinesDeleted, c.FilesChanged)
	if err != nil {
		return 0, false, classify("database.InsertCommit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, classify("database.InsertCommit", err)
	}

	var id int64
	err = q.queryRow(ctx, `SELECT id FROM commits WHERE repository_id = ? AND hash = ?`, c.RepositoryID, c.Hash).Scan(&id)
	if err != nil {
		return 0, false, classify("database.InsertCommit", err)
	}
	return id, n > 0, nil
}

// InsertFileChanges stores the file changes of a freshly inserted commit.
// A path repeated within one commit is a StorageConflict.
func (q *Queries) InsertFileChanges(ctx context.Context, commitID int64, files []model.FileChange) error {
	for _, f := range files {
		kind := f.Kind
		if kind == "" {
			kind = model.ChangeModified
		}
		_, err := q.exec(ctx, `INSERT INTO file_changes (commit_id, file_path, previous_path, lines_added, lines_deleted, change_kind)
			VALUES (?, ?, ?, ?, ?, ?)`,
			commitID, f.Path, f.PreviousPath, f.LinesAdded, f.LinesDeleted, string(kind))
		if err != nil {
			return classify("database.InsertFileChanges", err)
		}
	}
	return nil
}

// CountCommits returns the number of commit rows stored for the repository.
func (q *Queries) CountCommits(ctx context.Context, repositoryID int64) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM commits WHERE repository_id = ?`, repositoryID).Scan(&n)
	return n, classify("database.CountCommits", err)
}

// CountDistinctHashes returns the number of distinct hashes stored for the repository.
func (q *Queries) CountDistinctHashes(ctx context.Context, repositoryID int64) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(DISTINCT hash) FROM commits WHERE repository_id = ?`, repositoryID).Scan(&n)
	return n, classify("database.CountDistinctHashes", err)
}

// ListCommits scans commits in authored order, optionally with their file changes.
func (q *Queries) ListCommits(ctx context.Context, f CommitFilter) ([]model.Commit, error) {
	where, args := q.commitWhere(f, "")
	rows, err := q.query(ctx, `SELECT `+commitColumns+` FROM commits`+where+` ORDER BY authored_at, id`, args...)
	if err != nil {
		return nil, classify("database.ListCommits", err)
	}
	defer rows.Close()

	var commits []model.Commit
	index := make(map[int64]int)
	for rows.Next() {
		var c model.Commit
		var authored timestamp
		if err := rows.Scan(&c.ID, &c.RepositoryID, &c.Hash, &c.AuthorName, &c.AuthorEmail, &c.CommitterName,
			&c.CommitterEmail, &c.Message, &authored, &c.LinesAdded, &c.LinesDeleted, &c.FilesChanged); err != nil {
			return nil, classify("database.ListCommits", err)
		}
		c.AuthoredAt = authored.Time
		index[c.ID] = len(commits)
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("database.ListCommits", err)
	}
	rows.Close()

	if !f.WithFiles || len(commits) == 0 {
		return commits, nil
	}

	where, args = q.commitWhere(f, "c.")
	frows, err := q.query(ctx, `SELECT f.id, f.commit_id, f.file_path, f.previous_path, f.lines_added, f.lines_deleted, f.change_kind
		FROM file_changes f JOIN commits c ON c.id = f.commit_id`+where+` ORDER BY f.commit_id, f.file_path`, args...)
	if err != nil {
		return nil, classify("database.ListCommits", err)
	}
	defer frows.Close()
	for frows.Next() {
		var fc model.FileChange
		var kind string
		if err := frows.Scan(&fc.ID, &fc.CommitID, &fc.Path, &fc.PreviousPath, &fc.LinesAdded, &fc.LinesDeleted, &kind); err != nil {
			return nil, classify("database.ListCommits", err)
		}
		fc.Kind = model.ChangeKind(kind)
		if i, ok := index[fc.CommitID]; ok {
			commits[i].Files = append(commits[i].Files, fc)
		}
	}
	return commits, classify("database.ListCommits", frows.Err())
}

func (q *Queries) commitWhere(f CommitFilter, prefix string) (string, []any) {
	var conds []string
	var args []any
	if len(f.RepositoryIDs) > 0 {
		conds = append(conds, prefix+"repository_id IN ("+placeholders(len(f.RepositoryIDs))+")")
		for _, id := range f.RepositoryIDs {
			args = append(args, id)
		}
	}
	if f.Since != nil {
		conds = append(conds, prefix+"authored_at >= ?")
		args = append(args, q.ts(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, prefix+"authored_at < ?")
		args = append(args, q.ts(*f.Until))
	}
	if f.AuthorEmail != "" {
		conds = append(conds, prefix+"author_email = ?")
		args = append(args, model.NormalizeEmail(f.AuthorEmail))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
