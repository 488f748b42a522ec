package repository

// Schema definitions for the ClaimGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    claim_ref TEXT NOT NULL DEFAULT '',
    bene_id TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    amount_reimbursed REAL NOT NULL DEFAULT 0,
    record TEXT NOT NULL,
    status TEXT NOT NULL,
    risk_score INTEGER,
    risk_label TEXT,
    model_output TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    scored_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_claims_label ON claims(risk_label);
CREATE INDEX IF NOT EXISTS idx_claims_provider ON claims(provider);
CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
	}
}
