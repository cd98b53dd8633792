package store

const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	fingerprint TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT,
	not_before DATETIME,
	leased_by TEXT,
	lease_expires_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- serves the lease scan: eligible status, then priority, then age
CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(status, priority, created_at);

-- prevent duplicate active jobs for the same logical work
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_fingerprint ON jobs(kind, fingerprint)
WHERE status IN ('pending', 'running', 'retrying') AND fingerprint != '';

CREATE TABLE IF NOT EXISTS library_entities (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	parent_id TEXT,
	name TEXT NOT NULL,
	norm_name TEXT NOT NULL,
	sort_name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	external_ids TEXT NOT NULL DEFAULT '{}',
	mbid TEXT NOT NULL DEFAULT '',
	isrc TEXT NOT NULL DEFAULT '',
	upc TEXT NOT NULL DEFAULT '',
	year INTEGER NOT NULL DEFAULT 0,
	duration INTEGER NOT NULL DEFAULT 0,
	track_number INTEGER NOT NULL DEFAULT 0,
	disc_number INTEGER NOT NULL DEFAULT 0,
	genre TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	image_path TEXT NOT NULL DEFAULT '',
	aliases TEXT NOT NULL DEFAULT '[]',
	complete BOOLEAN NOT NULL DEFAULT 0,
	removed_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	FOREIGN KEY (parent_id) REFERENCES library_entities(id)
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_norm ON library_entities(kind, norm_name);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON library_entities(parent_id);
CREATE INDEX IF NOT EXISTS idx_entities_mbid ON library_entities(mbid) WHERE mbid != '';
CREATE INDEX IF NOT EXISTS idx_entities_isrc ON library_entities(isrc) WHERE isrc != '';
CREATE INDEX IF NOT EXISTS idx_entities_upc ON library_entities(upc) WHERE upc != '';

CREATE TABLE IF NOT EXISTS download_requests (
	id TEXT PRIMARY KEY,
	track_id TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'not_found',
	priority INTEGER NOT NULL DEFAULT 100,
	external_ref TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	next_attempt_at DATETIME,
	file_path TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	file_hash TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	FOREIGN KEY (track_id) REFERENCES library_entities(id)
);

-- one live request per track; finished copies stay behind as history
CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_live_track ON download_requests(track_id)
WHERE state != 'local';

CREATE INDEX IF NOT EXISTS idx_requests_feed ON download_requests(state, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_requests_ref ON download_requests(external_ref) WHERE external_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS merge_candidates (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	entity_id TEXT,
	record TEXT NOT NULL,
	record_key TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME,

	FOREIGN KEY (entity_id) REFERENCES library_entities(id)
);

-- the same incoming record parks at most one open candidate
CREATE UNIQUE INDEX IF NOT EXISTS idx_candidates_open_record ON merge_candidates(record_key)
WHERE status = 'pending' AND record_key != '';

CREATE INDEX IF NOT EXISTS idx_candidates_status ON merge_candidates(status, created_at);

CREATE TABLE IF NOT EXISTS scheduled_task_state (
	name TEXT PRIMARY KEY,
	last_run DATETIME,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	data BLOB,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
