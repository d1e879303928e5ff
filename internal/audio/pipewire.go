package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// ListPipeWirePorts returns the PipeWire output ports as "node:port" names
func ListPipeWirePorts() ([]string, error) {
	output, err := exec.Command("pw-link", "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	var ports []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports, nil
}

// validateTarget checks that target names exactly one node exposing output
// ports. Two applications registering the same node name both show up
// under it, and pw-record would pick one at random.
func validateTarget(target string, ports []string) error {
	if target == "" {
		return nil
	}

	var nodePorts []string
	for _, port := range ports {
		if port == target || strings.HasPrefix(port, target+":") {
			nodePorts = append(nodePorts, port)
		}
	}
	if len(nodePorts) == 0 {
		return fmt.Errorf("capture target not found: %s", target)
	}

	if dups := findPortDuplicates(nodePorts); len(dups) > 0 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", target, dups)
	}
	return nil
}

// findPortDuplicates returns the port names that appear more than once
func findPortDuplicates(ports []string) []string {
	seen := make(map[string]int, len(ports))
	var duplicates []string
	for _, port := range ports {
		seen[port]++
		if seen[port] == 2 {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}
