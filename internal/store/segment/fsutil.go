package segment

import (
	"os"
	"strconv"
	"strings"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// listDir lists the base names of a directory's entries, treating a
// missing directory as empty rather than an error (a fresh segment has
// no "p/" subdirectory yet).
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// parsePredFileName extracts the predicate RID from one of a predicate's
// ptree-pair file names (base.ptable / base.subj.nodes / ...), using the
// ".ptable" file as the canonical one-per-predicate marker.
func parsePredFileName(name string) (uint64, bool) {
	const suffix = ".ptable"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	hex := strings.TrimSuffix(name, suffix)
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
