package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- instances table
CREATE TABLE a (id TEXT);

-- just a comment;

CREATE INDEX idx_a ON a(id);
`
	stmts := splitStatements(script)
	assert.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_a")
}

func TestSplitStatementsEmptyScript(t *testing.T) {
	assert.Empty(t, splitStatements(""))
	assert.Empty(t, splitStatements("-- only comments;\n-- more"))
}
