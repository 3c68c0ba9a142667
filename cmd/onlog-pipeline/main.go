// v1
// cmd/onlog-pipeline/main.go
package main

import (
	"fmt"
	"os"

	"github.com/OnLog-System/onlog-pipeline/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
