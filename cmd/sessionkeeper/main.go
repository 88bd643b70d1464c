// Command sessionkeeper runs the backend-for-frontend that keeps browser
// sessions authenticated against an OpenID Connect provider.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
