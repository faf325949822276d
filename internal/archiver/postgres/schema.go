// Package postgres implements the durable Postgres destination for archived
// Gridshift data.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS price_snapshots (
    pool_id     TEXT NOT NULL,
    price       DOUBLE PRECISION NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL,
    source_id   TEXT,
    quality     TEXT NOT NULL,
    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (pool_id, captured_at)
);
CREATE INDEX IF NOT EXISTS idx_price_snapshots_captured_at ON price_snapshots (captured_at);

CREATE TABLE IF NOT EXISTS commands (
    id                TEXT PRIMARY KEY,
    agent_id          TEXT NOT NULL,
    client_id         TEXT NOT NULL,
    command_type      TEXT NOT NULL,
    priority          INTEGER NOT NULL,
    status            TEXT NOT NULL,
    created_by        TEXT,
    trigger_type      TEXT,
    payload           JSONB,
    execution_result  JSONB,
    error_message     TEXT,
    retry_recommended BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL,
    executed_at       TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ,
    archived_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_commands_agent_status ON commands (agent_id, status);
CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands (created_at);

CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL PRIMARY KEY,
    kind        TEXT NOT NULL,
    agent_id    TEXT,
    pool_id     TEXT,
    command_id  TEXT,
    status      TEXT,
    message     TEXT,
    details     JSONB,
    timestamp   TIMESTAMPTZ NOT NULL,
    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_agent_timestamp ON events (agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind);

CREATE TABLE IF NOT EXISTS archive_cursors (
    data_type    TEXT NOT NULL,
    key          TEXT NOT NULL,
    cursor_value TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (data_type, key)
);
`
