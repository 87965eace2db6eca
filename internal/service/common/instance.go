//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-ps"
)

// OtherInstances returns the PIDs of other processes running the executable name.
func OtherInstances(name string) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	return matchInstances(processList, name, os.Getpid()), nil
}

// matchInstances filters processes by executable name, skipping self.
func matchInstances(processList []ps.Process, name string, self int) []int {
	var pids []int

	for _, process := range processList {
		if process.Pid() == self || process.Executable() != name {
			continue
		}

		pids = append(pids, process.Pid())
	}

	return pids
}
