package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  string
)

func main() {
	if err := Execute(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "alarmd: %s\n", err.Error())
		os.Exit(1)
	}
}
