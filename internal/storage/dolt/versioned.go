package dolt

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CommitInfo represents a Dolt commit.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

func (s *DoltStore) commitAuthorString() string {
	return fmt.Sprintf("%s <%s>", s.committerName, s.committerEmail)
}

// Commit creates a Dolt commit of the working set with the given message.
func (s *DoltStore) Commit(ctx context.Context, message string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	// In SQL procedure mode Dolt defaults the author to the SQL user; pass one explicitly.
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "CALL DOLT_COMMIT('-Am', ?, '--author', ?)", message, s.commitAuthorString())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func isNothingToCommit(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nothing to commit")
}

// Log returns recent commit history, newest first.
func (s *DoltStore) Log(ctx context.Context, limit int) ([]CommitInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	var commits []CommitInfo
	err := s.read(ctx, func(q querier) error {
		commits = nil
		rows, err := q.QueryContext(ctx, `
			SELECT commit_hash, committer, email, date, message
			FROM dolt_log
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c CommitInfo
			if err := rows.Scan(&c.Hash, &c.Author, &c.Email, &c.Date, &c.Message); err != nil {
				return fmt.Errorf("failed to scan commit: %w", err)
			}
			commits = append(commits, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	return commits, nil
}
