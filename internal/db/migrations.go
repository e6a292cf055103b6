package db

var migrations = []Migration{
	{
		Version: "001_fleet",
		SQL: `
			CREATE TABLE machines (
				name TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'ENABLED',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE jobs (
				name TEXT PRIMARY KEY,
				machine_name TEXT NOT NULL REFERENCES machines(name) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				owner TEXT NOT NULL,
				added_at TEXT NOT NULL,
				started_at TEXT NOT NULL,
				priority TEXT NOT NULL,
				status TEXT NOT NULL,
				duration_minutes INTEGER NOT NULL DEFAULT 0,
				note TEXT NOT NULL DEFAULT '',
				tags_json TEXT NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_jobs_machine_position ON jobs(machine_name, position);
		`,
	},
	{
		Version: "002_admins_settings",
		SQL: `
			CREATE TABLE admins (
				username TEXT PRIMARY KEY,
				password_hash TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version: "003_archive_audit",
		SQL: `
			CREATE TABLE archived_jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				machine_name TEXT NOT NULL,
				owner TEXT NOT NULL,
				added_at TEXT NOT NULL,
				started_at TEXT NOT NULL,
				priority TEXT NOT NULL,
				status TEXT NOT NULL,
				duration_minutes INTEGER NOT NULL DEFAULT 0,
				note TEXT NOT NULL DEFAULT '',
				tags_json TEXT NOT NULL DEFAULT '[]',
				reason TEXT NOT NULL,
				archived_at TEXT NOT NULL
			);

			CREATE INDEX idx_archived_jobs_archived_at ON archived_jobs(archived_at);

			CREATE TABLE audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				action TEXT NOT NULL,
				job_name TEXT NOT NULL DEFAULT '',
				machine_name TEXT NOT NULL DEFAULT '',
				actor TEXT NOT NULL,
				created_at TEXT NOT NULL
			);

			CREATE INDEX idx_audit_log_created_at ON audit_log(created_at);
		`,
	},
}
