package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const procSelfStatus = "/proc/self/status"

// CurrentRSSBytes returns VmRSS from /proc/self/status (Linux only).
func CurrentRSSBytes() (int64, error) {
	return statusFieldBytes(procSelfStatus, "VmRSS")
}

// statusFieldBytes reads a "<field>: <n> kB" line from a proc status file.
func statusFieldBytes(path, field string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	prefix := field + ":"
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("%s parse failure", field)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s not found", field)
}
