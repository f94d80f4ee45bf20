// The main package for the gather-vision executable.
package main

import (
	"os"

	"github.com/JakeFAU/gather-vision/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
