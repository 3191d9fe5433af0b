// Package stat implements the "stat" wormholeutil subcommand: resolve a
// path on a remote host and print its attributes, without mounting it.
package stat

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"
	"github.com/quic-go/quic-go"

	"github.com/asjoyner/wormhole/crypto"
	"github.com/asjoyner/wormhole/transport"
	"github.com/asjoyner/wormhole/wire"
)

func init() {
	subcommands.Register(&statCmd{}, "")
}

type statCmd struct {
	host string
	join string
}

func (*statCmd) Name() string     { return "stat" }
func (*statCmd) Synopsis() string { return "Print a remote path's attributes without mounting it." }
func (*statCmd) Usage() string {
	return `stat -host ADDR -join CODE PATH:
  Resolve PATH against a running wormhole-host and print its attributes.
`
}

func (p *statCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.host, "host", "", "the host's address, e.g. 10.0.0.5:4242")
	f.StringVar(&p.join, "join", "", "the pair's join code")
}

func (p *statCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.host == "" || p.join == "" || f.NArg() != 1 {
		fmt.Println(p.Usage())
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)

	conn, err := quic.DialAddr(ctx, p.host, transport.ClientTLSConfig(), nil)
	if err != nil {
		fmt.Printf("dial %s: %v\n", p.host, err)
		return subcommands.ExitFailure
	}
	defer conn.CloseWithError(0, "done")

	if err := handshake(ctx, conn, p.join); err != nil {
		fmt.Printf("handshake: %v\n", err)
		return subcommands.ExitFailure
	}

	sess, err := transport.NewSession(ctx, func(ctx context.Context) (*quic.Conn, error) {
		return conn, nil
	}, 1)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	defer sess.Close()

	if _, err := sess.Do(ctx, &wire.Hello{Version: wire.ProtocolVersion}); err != nil {
		fmt.Printf("hello: %v\n", err)
		return subcommands.ExitFailure
	}

	inode := wire.Inode(wire.RootInode)
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" {
			continue
		}
		resp, err := sess.Do(ctx, &wire.Lookup{Parent: inode, Name: name})
		if err != nil {
			fmt.Printf("lookup %q: %v\n", name, err)
			return subcommands.ExitFailure
		}
		lr, ok := resp.(*wire.LookupResponse)
		if !ok || !lr.Found {
			fmt.Printf("not found: %s\n", path)
			return subcommands.ExitFailure
		}
		inode = lr.Attr.Inode
	}

	resp, err := sess.Do(ctx, &wire.GetAttr{Inode: inode})
	if err != nil {
		fmt.Printf("getattr: %v\n", err)
		return subcommands.ExitFailure
	}
	ga, ok := resp.(*wire.GetAttrResponse)
	if !ok || !ga.Found {
		fmt.Printf("not found: %s\n", path)
		return subcommands.ExitFailure
	}
	fmt.Printf("%+v\n", ga.Attr)
	return subcommands.ExitSuccess
}

func handshake(ctx context.Context, conn *quic.Conn, joinCode string) error {
	hs, err := crypto.StartClient(joinCode)
	if err != nil {
		return err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	if _, err := stream.Write(hs.OutboundMessage()); err != nil {
		return err
	}
	peerMsg := make([]byte, crypto.PakeMessageSize)
	if _, err := io.ReadFull(stream, peerMsg); err != nil {
		return err
	}
	_, err = hs.Finish(peerMsg)
	return err
}
