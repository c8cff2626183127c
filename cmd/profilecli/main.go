package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		exitf("parse flags: %v", err)
	}
	if err := run(context.Background(), cfg, os.Stdout, os.Stderr); err != nil {
		exitf("profilecli: %v", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
