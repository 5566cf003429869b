package engine

import (
	"log/slog"
	"os/exec"

	"github.com/lesleslie/crackerjack-sub006/internal/csync"
)

// processSet tracks live subprocesses for cleanup bookkeeping only, never
// for result data. Insertion and removal are symmetric: every add is paired
// with a deferred remove on all exit paths.
type processSet struct {
	procs *csync.Map[string, *exec.Cmd]
}

func newProcessSet() *processSet {
	return &processSet{procs: csync.NewMap[string, *exec.Cmd]()}
}

func (s *processSet) add(id string, cmd *exec.Cmd) {
	s.procs.Set(id, cmd)
}

func (s *processSet) remove(id string) {
	s.procs.Del(id)
}

func (s *processSet) len() int {
	return s.procs.Len()
}

// killAll kills every tracked process and empties the set. Safe to call
// when nothing is running, and safe to call repeatedly.
func (s *processSet) killAll() int {
	killed := 0
	for id, cmd := range s.procs.Seq2() {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				slog.Debug("Process kill failed", "id", id, "error", err)
			} else {
				killed++
			}
		}
		s.procs.Del(id)
	}
	return killed
}
