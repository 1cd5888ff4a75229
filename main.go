// The main package for the feedroll executable.
package main

import (
	"os"

	"github.com/JakeFAU/feedroll/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	os.Exit(cmd.Execute())
}
