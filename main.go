// The main package for the bknmu-notifier executable.
package main

import (
	"github.com/ftmlabs/bknmu-notifier/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
