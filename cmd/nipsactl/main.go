// Package main is nipsactl, an operator CLI for the NIPSA denylist and the
// Administrative API keys.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
