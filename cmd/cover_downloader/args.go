package main

import (
	"fmt"
	"strconv"
)

const (
	defaultWorkDir    = "."
	defaultTotalFiles = 10
)

type arguments struct {
	PolicyID   string
	WorkDir    string
	TotalFiles int
}

// parseArgs maps <policy_id> [work_dir] [total_files] onto arguments. Policy id
// validation belongs to the resolver; only the cap is checked here.
func parseArgs(args []string) (arguments, error) {
	a := arguments{WorkDir: defaultWorkDir, TotalFiles: defaultTotalFiles}

	if len(args) < 1 || len(args) > 3 {
		return a, fmt.Errorf("expected 1 to 3 arguments, got %d", len(args))
	}

	a.PolicyID = args[0]

	if len(args) > 1 && args[1] != "" {
		a.WorkDir = args[1]
	}

	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return a, fmt.Errorf("total_files must be a positive integer, got %q", args[2])
		}

		a.TotalFiles = n
	}

	return a, nil
}
