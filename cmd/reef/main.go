package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lazypower/reef/internal/cli"
	"github.com/lazypower/reef/internal/engine"
	"github.com/lazypower/reef/internal/store"
)

// Exit codes: 0 success, 1 invalid input or internal error, 2 policy halt,
// 3 concurrency conflict or missing record.
func main() {
	err := cli.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "reef: %v\n", err)

	var halt *engine.PolicyHaltError
	switch {
	case errors.As(err, &halt):
		os.Exit(2)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		os.Exit(3)
	default:
		os.Exit(1)
	}
}
