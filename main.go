// The main package for the digest-fetcher executable.
package main

import (
	"github.com/JakeFAU/digest-fetcher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
