//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers "sqlite3" with SQLCipher support
)

// EncryptionSupported reports whether the active SQLite driver understands
// SQLCipher encryption (PRAGMA key). True when built with CGO.
const EncryptionSupported = true
