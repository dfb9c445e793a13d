// Command tix is the construct engine's CLI entrypoint. It stays thin:
// build the root command, wire persistent flags, and run it.
package main

import (
	"github.com/ralphdev/tix/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		cli.Fail(err)
	}
}
