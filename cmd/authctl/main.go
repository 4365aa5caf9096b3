package main

import (
	"fmt"
	"os"

	authctlcmd "github.com/telekom/cli-auth-broker/pkg/authctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := authctlcmd.NewRootCommand(authctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
