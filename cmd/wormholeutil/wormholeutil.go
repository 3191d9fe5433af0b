// wormholeutil contains small tools for operating wormhole hosts and
// mounts from the command line: generating join codes, inspecting a
// remote path, and reporting chunk cache disk usage.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/google/subcommands"

	_ "github.com/asjoyner/wormhole/cmd/wormholeutil/gc"
	_ "github.com/asjoyner/wormhole/cmd/wormholeutil/join"
	_ "github.com/asjoyner/wormhole/cmd/wormholeutil/stat"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	flag.Parse()

	ctx := context.Background()
	exitValue := subcommands.Execute(ctx)
	glog.Flush()
	os.Exit(int(exitValue))
}
