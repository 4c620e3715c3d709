// Package resolver computes collision-safe output paths for a shared
// destination directory.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxAttempts bounds the suffix search so a pathological directory cannot
// spin forever.
const maxAttempts = 10000

// Resolver hands out output paths that are guaranteed not to collide with
// existing files or with paths claimed by other workers in the same run.
// Claiming and the on-disk existence check form a single critical section,
// and the placeholder file is created with O_EXCL so a race with an external
// writer surfaces as EEXIST and the next suffix is tried.
type Resolver struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// New returns a ready-to-use resolver.
func New() *Resolver {
	return &Resolver{claimed: make(map[string]struct{})}
}

// Claim reserves and creates the first free variant of base+ext inside dir:
// "name.ext", "name (1).ext", "name (2).ext", ... The returned path exists as
// an empty placeholder file owned by the caller, who is expected to rename
// the finished output over it (or Release it on failure).
func (r *Resolver) Claim(dir, base, ext string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxAttempts; i++ {
		candidate := filepath.Join(dir, candidateName(base, ext, i))
		if _, taken := r.claimed[candidate]; taken {
			continue
		}

		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", fmt.Errorf("create placeholder: %w", err)
		}
		f.Close()

		r.claimed[candidate] = struct{}{}
		return candidate, nil
	}

	return "", fmt.Errorf("no free name for %q in %s after %d attempts", base+ext, dir, maxAttempts)
}

// Release removes the claim and the placeholder for a path whose write
// failed, so the name becomes available again.
func (r *Resolver) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.claimed[path]; !ok {
		return
	}
	delete(r.claimed, path)

	// Only an empty placeholder is removed; a renamed-in output stays.
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		os.Remove(path)
	}
}

func candidateName(base, ext string, attempt int) string {
	if attempt == 0 {
		return base + ext
	}
	return fmt.Sprintf("%s (%d)%s", base, attempt, ext)
}
