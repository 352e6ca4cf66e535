// Package main provides the entry point for the amanfind CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanfind/cmd/amanfind/cmd"
	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

func main() {
	os.Exit(amerrors.ExitCode(cmd.Execute()))
}
