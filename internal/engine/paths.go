package engine

import (
	"path/filepath"
)

// UploadDir returns the on-disk directory holding a session's uploaded
// file bytes.
func UploadDir(dataDir, sessionID string) string {
	return filepath.Join(dataDir, sessionID, "uploads")
}

// ExportDir returns the on-disk directory holding a session's export
// artifacts.
func ExportDir(dataDir, sessionID string) string {
	return filepath.Join(dataDir, sessionID, "exports")
}

// SessionDir returns the root on-disk directory for a session.
func SessionDir(dataDir, sessionID string) string {
	return filepath.Join(dataDir, sessionID)
}
