// Package join implements the "join" wormholeutil subcommand: generate or
// validate a join code.
package join

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/asjoyner/wormhole/crypto"
)

func init() {
	subcommands.Register(&joinCmd{}, "")
}

type joinCmd struct {
	check string
}

func (*joinCmd) Name() string     { return "join" }
func (*joinCmd) Synopsis() string { return "Generate a join code, or validate one." }
func (*joinCmd) Usage() string {
	return `join [-check CODE]:
  Print a freshly generated join code, or report whether -check's code is
  well-formed.
`
}

func (p *joinCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.check, "check", "", "a join code to validate instead of generating a new one")
}

func (p *joinCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.check != "" {
		if !crypto.ValidateJoinCode(p.check) {
			fmt.Printf("invalid join code: %q\n", p.check)
			return subcommands.ExitFailure
		}
		fmt.Printf("%s is a valid join code\n", crypto.NormalizeJoinCode(p.check))
		return subcommands.ExitSuccess
	}

	code, err := crypto.GenerateJoinCode()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	fmt.Println(code)
	return subcommands.ExitSuccess
}
