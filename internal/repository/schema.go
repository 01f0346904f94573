package repository

// Schema definitions compatible with both SQLite and PostgreSQL.

const schemaArtifactLoads = `
CREATE TABLE IF NOT EXISTS artifact_loads (
    id TEXT PRIMARY KEY,
    model_version TEXT NOT NULL,
    checksum TEXT NOT NULL,
    source TEXT NOT NULL,
    feature_count INTEGER NOT NULL,
    tree_count INTEGER NOT NULL,
    threshold DOUBLE PRECISION NOT NULL,
    load_trigger TEXT NOT NULL,
    loaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifact_loads_loaded_at ON artifact_loads(loaded_at);
CREATE INDEX IF NOT EXISTS idx_artifact_loads_checksum ON artifact_loads(checksum);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaArtifactLoads,
	}
}
