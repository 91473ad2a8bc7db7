package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Options the merge step sets itself; global args must not override them.
var reservedOptions = map[string]bool{
	"-i":        true,
	"-y":        true,
	"-n":        true,
	"-c:v":      true,
	"-c:a":      true,
	"-movflags": true,
}

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateGlobalArgs checks operator supplied arguments that are prepended
// to every merge invocation.
func ValidateGlobalArgs(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return fmt.Errorf("option %s is managed by the merge step and cannot be set globally", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
