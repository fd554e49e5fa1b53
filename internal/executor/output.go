package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// maxOutputBytes caps what is kept of each of stdout and stderr.
	maxOutputBytes = 64 * 1024

	outputTruncatedMsg = "\n... output truncated (64 KB limit) ..."
)

// cappedOutput keeps the first limit bytes written to it and counts the rest.
// Write always reports the full length.
type cappedOutput struct {
	data    []byte
	limit   int
	dropped int64
}

func newCappedOutput(limit int) *cappedOutput {
	return &cappedOutput{limit: limit}
}

func (o *cappedOutput) Write(p []byte) (int, error) {
	room := o.limit - len(o.data)
	if room < 0 {
		room = 0
	}
	keep := min(room, len(p))
	o.data = append(o.data, p[:keep]...)
	o.dropped += int64(len(p) - keep)
	return len(p), nil
}

func (o *cappedOutput) Truncated() bool { return o.dropped > 0 }

func (o *cappedOutput) String() string {
	if o.Truncated() {
		return string(o.data) + outputTruncatedMsg
	}
	return string(o.data)
}

// splitJailLog separates nsjail's own diagnostics, tagged "[I]", "[W]",
// "[E]", "[F]" or "[D]", from what the program wrote to stderr.
func splitJailLog(raw string) (program, jail string) {
	if raw == "" {
		return "", ""
	}
	var prog, logs []string
	for _, line := range strings.Split(raw, "\n") {
		if isJailLogLine(line) {
			logs = append(logs, line)
			continue
		}
		prog = append(prog, line)
	}
	return strings.Join(prog, "\n"), strings.Join(logs, "\n")
}

func isJailLogLine(line string) bool {
	line = strings.TrimLeft(line, " \t")
	return len(line) >= 3 && line[0] == '[' && line[2] == ']' &&
		strings.IndexByte("IWEFD", line[1]) >= 0
}

// oomMarkers are substrings nsjail logs when the memory cgroup kills the child.
var oomMarkers = []string{"oom", "memory cgroup", "cgroup_mem"}

// killedByOOM reports a memory kill. 137 is 128+SIGKILL, the signal the
// cgroup OOM killer delivers.
func killedByOOM(exitCode int, jailLog string) bool {
	if exitCode == 137 {
		return true
	}
	lower := strings.ToLower(jailLog)
	for _, m := range oomMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// taskCgroup is a cgroup v2 directory created for one sandbox run. nsjail
// places its child cgroup underneath it, so the directory's memory.peak
// covers exactly that run.
type taskCgroup struct {
	dir string
}

// newTaskCgroup creates a fresh child of root. An empty root disables
// accounting and yields a nil cgroup.
func newTaskCgroup(root, prefix string) (*taskCgroup, error) {
	if root == "" {
		return nil, nil
	}
	dir, err := os.MkdirTemp(root, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}
	return &taskCgroup{dir: dir}, nil
}

// Dir is the value handed to nsjail's --cgroupv2_mount, or "" when disabled.
func (cg *taskCgroup) Dir() string {
	if cg == nil {
		return ""
	}
	return cg.dir
}

// PeakKB reads the run's peak memory. 0 means not measured.
func (cg *taskCgroup) PeakKB() int64 {
	if cg == nil {
		return 0
	}
	return cgroupPeakKB(cg.dir)
}

// Release removes the directory. cgroupfs only supports rmdir.
func (cg *taskCgroup) Release() error {
	if cg == nil {
		return nil
	}
	return os.Remove(cg.dir)
}

func cgroupPeakKB(dir string) int64 {
	raw, err := os.ReadFile(filepath.Join(dir, "memory.peak"))
	if err != nil {
		return 0
	}
	bytes, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || bytes <= 0 {
		return 0
	}
	return bytes / 1024
}
