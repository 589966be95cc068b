// ABOUTME: Atomic publish primitive: write to <name>.tmp, rename to the final name.
// ABOUTME: Readers filter the reserved .tmp suffix, so a partial write is never observed.

package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// WriteAtomic publishes data at path. The rename is the atomic publish point;
// until it happens the file only exists under the reserved .tmp suffix that
// ListReady excludes.
func WriteAtomic(path string, data []byte) error {
	tmp := path + TmpSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing %s: %w", path, err)
	}
	return nil
}

// WriteJSON marshals v and publishes it atomically at path.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return WriteAtomic(path, data)
}

// ReadJSON reads the file at path and unmarshals it into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ListReady scans dir for published files with the given prefix, skipping
// in-flight .tmp files. Names come back lexicographically sorted, which for
// our filename scheme is arrival order. A missing directory is an empty list:
// every poll tick rescans fully, so transient conditions self-heal.
func ListReady(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, TmpSuffix) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
