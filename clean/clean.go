// Package clean reaps stale mmstats files left behind by processes that
// exited uncleanly.
//
// Liveness is determined by probing the publisher's sys.pid field with
// signal 0. That assumes a platform whose kill(2) reports ESRCH for dead
// pids and EPERM for live pids owned by other users, which holds on the
// Unix systems mmstats targets.
package clean

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/schmichael/mmstats/reader"
)

// cleanMu serializes cleanups process-wide: concurrent goroutines removing
// sibling {TID}-templated files must not race each other's unlinks.
var cleanMu sync.Mutex

// A Result tallies one cleanup pass.
type Result struct {
	Alive   int
	Removed int
}

// Files inspects every path and unlinks the ones whose publisher is no
// longer alive. Unreadable or foreign files are skipped and logged; only
// unexpected probe failures abort the pass.
func Files(paths []string) (Result, error) {
	cleanMu.Lock()
	defer cleanMu.Unlock()

	var res Result
	for _, fn := range paths {
		if fi, err := os.Stat(fn); err != nil || fi.IsDir() {
			continue
		}

		pid, err := publisherPid(fn)
		if err != nil {
			log.Printf("clean: skipping %s: %v", fn, err)
			continue
		}

		err = unix.Kill(pid, 0)
		switch {
		case err == nil:
			// Alive and well, leave it alone.
			res.Alive++
			continue
		case err == unix.EPERM:
			log.Printf("clean: pid %d is alive but owned by another user, skipping %s", pid, fn)
			res.Alive++
			continue
		case err == unix.ESRCH:
			// No such process: safe to reap.
		default:
			// Don't assume it is safe to continue after other errors.
			return res, xerrors.Errorf("clean: probing pid %d: %w", pid, err)
		}

		if err := os.Remove(fn); err != nil {
			log.Printf("clean: could not remove %s: %v", fn, err)
			continue
		}
		res.Removed++
	}
	return res, nil
}

// publisherPid extracts the sys.pid field from fn.
func publisherPid(fn string) (int, error) {
	r, err := reader.FromFile(fn)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	for {
		st, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if strings.HasSuffix(st.Label, "sys.pid") {
			if pid, ok := intValue(st.Value); ok {
				return pid, nil
			}
			return 0, xerrors.Errorf("sys.pid has non-integer value %v", st.Value)
		}
	}
	return 0, xerrors.New("no sys.pid entry")
}

func intValue(v interface{}) (int, bool) {
	switch v := v.(type) {
	case uint32:
		return int(v), true
	case int32:
		return int(v), true
	case uint64:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}
