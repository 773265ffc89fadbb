package command

import (
	"fmt"
	"strconv"
	"strings"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
)

// Validate checks a built argument vector before execution
func Validate(args []string, inputs int) error {
	fail := func(format string, a ...interface{}) error {
		return muxerrors.ValidationError("validate_args", fmt.Errorf("%w: "+format, append([]interface{}{muxerrors.ErrInvalidCommand}, a...)...))
	}

	if len(args) < 8 {
		return fail("too few arguments (%d)", len(args))
	}
	if args[0] == "" {
		return fail("empty binary path")
	}
	if args[1] != "-y" || args[2] != "-nostats" || args[3] != "-loglevel" {
		return fail("unexpected global options %v", args[1:4])
	}

	n := len(args)
	if args[n-3] != "-f" || args[n-2] == "" || args[n-1] == "" {
		return fail("output must end with -f <format> <output>")
	}

	seenInputs := 0
	for i := 4; i < n-3; i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		switch {
		case arg == "-i":
			if i+1 >= n-3 || args[i+1] == "" {
				return fail("-i without a path")
			}
			seenInputs++
		case arg == "-map":
			if i+1 >= n-3 {
				return fail("-map without a value")
			}
			if idx, ok := mapInputIndex(args[i+1]); ok && idx >= inputs {
				return fail("map %q references input %d of %d", args[i+1], idx, inputs)
			}
		case strings.HasPrefix(arg, "-metadata:"):
			if strings.TrimPrefix(arg, "-metadata:") == "" {
				return fail("empty metadata selector")
			}
		}
		i += argArity(arg)
	}

	if seenInputs != inputs {
		return fail("expected %d inputs, found %d", inputs, seenInputs)
	}

	return nil
}

// argArity returns how many values follow a flag
func argArity(flag string) int {
	switch {
	case flag == "-copyts", flag == "-start_at_zero":
		return 0
	case flag == "-i", flag == "-map", flag == "-c:v", flag == "-c:a", flag == "-loglevel":
		return 1
	case flag == "-metadata", strings.HasPrefix(flag, "-metadata:"):
		return 1
	}
	return 0
}

// mapInputIndex extracts the input file index of a -map value such as "1" or "0:v:0"
func mapInputIndex(m string) (int, bool) {
	head := strings.TrimPrefix(m, "-")
	if i := strings.IndexByte(head, ':'); i >= 0 {
		head = head[:i]
	}
	idx, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return idx, true
}
