package db

const (
	UpsertMachine = `
		INSERT INTO machines (name, status) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET status = excluded.status, updated_at = CURRENT_TIMESTAMP
	`

	GetMachineByName = `
		SELECT m.name, m.status, COUNT(j.name), m.created_at, m.updated_at
		FROM machines m LEFT JOIN jobs j ON j.machine_name = m.name
		WHERE m.name = ?
		GROUP BY m.name
	`

	ListMachines = `
		SELECT m.name, m.status, COUNT(j.name), m.created_at, m.updated_at
		FROM machines m LEFT JOIN jobs j ON j.machine_name = m.name
		GROUP BY m.name
		ORDER BY m.name ASC
	`

	ListMachineNames = `SELECT name FROM machines`

	DeleteMachine = `DELETE FROM machines WHERE name = ?`
)

const (
	InsertJob = `
		INSERT INTO jobs (name, machine_name, position, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListJobs = `
		SELECT name, machine_name, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json
		FROM jobs ORDER BY machine_name ASC, position ASC
	`

	ListJobsByMachine = `
		SELECT name, machine_name, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json
		FROM jobs WHERE machine_name = ? ORDER BY position ASC
	`

	CountJobs = `SELECT COUNT(*) FROM jobs`

	DeleteAllJobs = `DELETE FROM jobs`
)

const (
	InsertAdmin = `INSERT INTO admins (username, password_hash) VALUES (?, ?)`

	GetAdminByUsername = `SELECT username, password_hash, created_at FROM admins WHERE username = ?`

	ListAdmins = `SELECT username, password_hash, created_at FROM admins ORDER BY username ASC`

	CountAdmins = `SELECT COUNT(*) FROM admins`

	UpdateAdminPassword = `UPDATE admins SET password_hash = ? WHERE username = ?`
)

const (
	GetSetting = `SELECT key, value, updated_at FROM settings WHERE key = ?`

	UpsertSetting = `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertArchivedJob = `
		INSERT INTO archived_jobs (name, machine_name, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json, reason, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	archivedJobColumns = `id, name, machine_name, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json, reason, archived_at`

	ListArchivedJobsBefore = `
		SELECT ` + archivedJobColumns + `
		FROM archived_jobs WHERE archived_at < ? ORDER BY archived_at ASC
	`

	DeleteArchivedJob = `DELETE FROM archived_jobs WHERE id = ?`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, job_name, machine_name, actor, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
)
