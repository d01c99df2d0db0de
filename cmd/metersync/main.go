// Command metersync is the sync sidecar for the water meter reading
// client: it pulls route assignments down into the local database and
// pushes captured readings up to the backend.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
