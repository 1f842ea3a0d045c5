package localstore

// schema creates the persisted-state layout mandated by the external
// interface: owners, domains, pubkeys, ranges (keyed by the textual
// start, with materialized numeric _s/_e columns carrying unique
// indices for fast overlap probes) and range_changes, the A/M/D journal.
const schema = `
CREATE TABLE IF NOT EXISTS owners (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS domains (
	sip TEXT PRIMARY KEY,
	owner TEXT NOT NULL REFERENCES owners(name)
);

CREATE TABLE IF NOT EXISTS pubkeys (
	owner TEXT NOT NULL REFERENCES owners(name),
	pem TEXT NOT NULL,
	PRIMARY KEY (owner, pem)
);

CREATE TABLE IF NOT EXISTS ranges (
	start TEXT PRIMARY KEY,
	"end" TEXT NOT NULL,
	start_n INTEGER NOT NULL,
	end_n INTEGER NOT NULL,
	sip TEXT NOT NULL,
	owner TEXT NOT NULL,
	mdate TEXT NOT NULL,
	sig TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ranges_start_n ON ranges(start_n);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ranges_end_n ON ranges(end_n);
CREATE INDEX IF NOT EXISTS idx_ranges_owner ON ranges(owner);
CREATE INDEX IF NOT EXISTS idx_ranges_mdate ON ranges(mdate);

CREATE TABLE IF NOT EXISTS range_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL CHECK (kind IN ('A', 'M', 'D')),
	start TEXT NOT NULL,
	"end" TEXT NOT NULL,
	logged_at TEXT NOT NULL
);
`
