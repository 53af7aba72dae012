package store

// Schema contains the DDL for the rule database.
const Schema = `
-- Rules: one row per rule, ordered per hostname by position
CREATE TABLE IF NOT EXISTS rules (
    id          TEXT PRIMARY KEY,
    hostname    TEXT NOT NULL,
    position    INTEGER NOT NULL,
    selector    TEXT NOT NULL,
    action      TEXT NOT NULL DEFAULT 'hide',
    apply_mode  TEXT NOT NULL DEFAULT 'immediate',
    enabled     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_host ON rules(hostname, position);

-- Settings: flat key/value pairs (zapelm.debug)
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
