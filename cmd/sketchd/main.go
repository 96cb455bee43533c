// Command sketchd keeps a local Arduino sketchbook in sync with the cloud
// sketch store and tracks the boards attached to this machine.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
