package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm"}

// StoreFiles returns the existing files that hold the notes and the vector index,
// including SQLite sidecars and snapshot temp files left behind by an interrupted write.
func StoreFiles(notesPath, indexPath string) []string {
	var candidates []string
	for _, p := range []string{notesPath, indexPath} {
		if p == "" {
			continue
		}
		candidates = append(candidates, p)
		for _, suffix := range sqliteSidecars {
			candidates = append(candidates, p+suffix)
		}
		if tmp, _ := filepath.Glob(p + ".tmp-*"); len(tmp) > 0 {
			candidates = append(candidates, tmp...)
		}
	}
	out := candidates[:0]
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// DiskUsageBytes returns the total size of paths. Directories are summed recursively;
// missing paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
