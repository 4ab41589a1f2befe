package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// An interrupted batch already printed its summary; only surface
		// real errors.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "subforge:", err)
		}
		os.Exit(1)
	}
}
