package eventstore

var eventsTable = `CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id CHAR(36) UNIQUE NOT NULL,
	kind VARCHAR(64) NOT NULL,
	payload BLOB NOT NULL,
	checksum BLOB NOT NULL,
	CONSTRAINT chk_checksum CHECK (length(checksum) = 32)
);`
