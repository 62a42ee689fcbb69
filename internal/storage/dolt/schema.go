package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// currentSchemaVersion is stored in config.schema_version once the DDL below
// has been applied; bump it when the schema changes.
const currentSchemaVersion = 1

const schema = `
-- Operations queued for field agents
CREATE TABLE IF NOT EXISTS operations (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    operation VARCHAR(32) NOT NULL,
    operand VARCHAR(1024) NOT NULL DEFAULT '',
    args TEXT,
    target_agent_id VARCHAR(255) NOT NULL,
    state VARCHAR(16) NOT NULL,
    created_by VARCHAR(255) NOT NULL DEFAULT '',
    created BIGINT NOT NULL,
    updated BIGINT NOT NULL,
    INDEX idx_operations_agent_state (target_agent_id, state),
    INDEX idx_operations_created (created, id)
);

-- Each row says operation_id runs only after depends_on_id
CREATE TABLE IF NOT EXISTS operation_dependencies (
    operation_id VARCHAR(64) NOT NULL,
    depends_on_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (operation_id, depends_on_id),
    INDEX idx_dependencies_depends_on (depends_on_id),
    CONSTRAINT fk_dep_operation FOREIGN KEY (operation_id) REFERENCES operations(id) ON DELETE CASCADE,
    CONSTRAINT fk_dep_depends_on FOREIGN KEY (depends_on_id) REFERENCES operations(id)
);

-- Audit trail
CREATE TABLE IF NOT EXISTS events (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    severity VARCHAR(8) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    message TEXT NOT NULL,
    detail_ref VARCHAR(64) NOT NULL DEFAULT '',
    actor VARCHAR(255) NOT NULL DEFAULT '',
    created BIGINT NOT NULL,
    INDEX idx_events_detail_ref (detail_ref),
    INDEX idx_events_created (created)
);

CREATE TABLE IF NOT EXISTS config (
    ` + "`key`" + ` VARCHAR(255) NOT NULL PRIMARY KEY,
    value TEXT NOT NULL
);
`

// initSchemaOnDB creates all tables if they don't exist.
func initSchemaOnDB(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, "SELECT `value` FROM config WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentSchemaVersion {
		return nil
	}

	// MySQL/Dolt doesn't accept multiple statements in one Exec.
	for _, stmt := range splitStatements(schema) {
		if isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w\nStatement: %s", err, truncateForError(stmt))
		}
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO config (`key`, `value`) VALUES ('schema_version', ?) "+
			"ON DUPLICATE KEY UPDATE `value` = ?",
		currentSchemaVersion, currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// splitStatements splits a SQL script on semicolons outside quoted strings.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	var quote byte

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			if c == quote && script[i-1] != '\\' {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return statements
}

// isOnlyComments reports whether stmt holds nothing but "--" comment lines.
func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func truncateForError(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
