package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS streams (
    name TEXT PRIMARY KEY,
    format TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notices (
    id TEXT PRIMARY KEY,
    stream TEXT NOT NULL,
    format TEXT NOT NULL,
    created INTEGER NOT NULL,
    payload BLOB NOT NULL,
    is_test INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS notices_stream_created ON notices (stream, created);
CREATE TABLE IF NOT EXISTS triggers (
    id TEXT PRIMARY KEY,
    priority INTEGER NOT NULL,
    definition TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    trigger_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    time INTEGER,
    UNIQUE (trigger_id, group_id)
);
CREATE TABLE IF NOT EXISTS event_notices (
    event_id TEXT NOT NULL,
    notice_id TEXT NOT NULL,
    PRIMARY KEY (event_id, notice_id)
);
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    created INTEGER NOT NULL,
    source TEXT NOT NULL,
    factors TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_event ON decisions (event_id, created);
CREATE TABLE IF NOT EXISTS observations (
    id TEXT PRIMARY KEY,
    decision_id TEXT,
    trigger_id TEXT NOT NULL,
    created INTEGER NOT NULL,
    finish INTEGER,
    observatory TEXT NOT NULL,
    priority INTEGER NOT NULL,
    status TEXT NOT NULL,
    is_test INTEGER NOT NULL DEFAULT 0,
    log TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS observations_active ON observations (observatory, status, finish);
`
