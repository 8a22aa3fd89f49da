package activation

import (
	"os"
	"path/filepath"

	"github.com/PKmac78/paddisense-hacs/internal/types"
)

// BackupsDir is the backup subdirectory created inside each module's state
// directory. Its contents belong to the backup collaborator.
const BackupsDir = "backups"

// StateDir returns the module's auxiliary state directory.
func StateDir(stateRoot, moduleID string) string {
	return filepath.Join(stateRoot, moduleID)
}

// EnsureStateDir creates <stateRoot>/<id>/backups. Existing directories and
// their contents are left alone.
func EnsureStateDir(stateRoot, moduleID string) (string, *types.Finding) {
	dir := StateDir(stateRoot, moduleID)
	if err := os.MkdirAll(filepath.Join(dir, BackupsDir), 0755); err != nil {
		f := types.NewFinding(types.CodeStateDirFailed, moduleID, "cannot create %s", dir).WithErr(err)
		return dir, &f
	}
	return dir, nil
}
