package store

// schema is executed once at open. Every statement is idempotent so opening
// an existing database is a no-op beyond the PRAGMA.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ts         TEXT NOT NULL,
    session    INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    value      TEXT,
    tags       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS observations (
    session    INTEGER PRIMARY KEY,
    ts         TEXT NOT NULL,
    duration   REAL,
    outcome    TEXT,
    data       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS improvements (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ref        TEXT UNIQUE,
    created    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    resolved   TEXT,
    category   TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'open',
    title      TEXT NOT NULL,
    body       TEXT,
    context    TEXT,
    tags       TEXT,
    meta       TEXT
);

CREATE INDEX IF NOT EXISTS idx_improvements_status ON improvements(status);
CREATE INDEX IF NOT EXISTS idx_improvements_category ON improvements(category);
`
