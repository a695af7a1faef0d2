package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// ShellCommand is the interpreter used by command entries.
const ShellCommand = "sh"

// Requirement defines an external binary the engine relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Runtime lists the binaries job handlers shell out to. Only command entries
// need the shell, so it is optional for the daemon as a whole.
func Runtime() []Requirement {
	return []Requirement{
		{
			Name:        "Command shell",
			Command:     ShellCommand,
			Description: "Runs command entries",
			Optional:    true,
		},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		switch path, err := lookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the statuses whose binary could not be resolved.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available {
			missing = append(missing, s)
		}
	}
	return missing
}

func lookPath(command string) (string, error) {
	if command == "" {
		return "", exec.ErrNotFound
	}
	return exec.LookPath(command)
}
