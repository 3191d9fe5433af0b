// Package gc implements the "gc" wormholeutil subcommand: report disk
// usage for a chunk cache directory.
//
// Reclaiming cache entries requires the live reference counts a running
// wormhole-mount process tracks in its cache.DedupIndex; an offline tool
// has no way to tell a zero-refcount hash from one a live process still
// holds open. wormhole-host doesn't have this problem (and this tool
// doesn't apply to it): its share root is a plain file tree, not a
// content-addressed cache. So this only reports usage for a mount's
// cache directory; actual reclamation happens inside that process via
// cache.GC, on cache.DefaultGCInterval.
package gc

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
)

func init() {
	subcommands.Register(&gcCmd{}, "")
}

type gcCmd struct {
	dir string
}

func (*gcCmd) Name() string     { return "gc" }
func (*gcCmd) Synopsis() string { return "Report disk usage for a chunk cache directory." }
func (*gcCmd) Usage() string {
	return `gc -dir DIR:
  Report the file count and total size of the chunk cache at DIR.
  Reclaiming unreferenced entries happens inside the live wormhole-mount
  process, which is the only place that knows their current refcounts.
`
}

func (p *gcCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.dir, "dir", "", "path to the chunk cache directory")
}

func (p *gcCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.dir == "" {
		fmt.Println(p.Usage())
		return subcommands.ExitUsageError
	}

	var files int
	var bytes int64
	err := filepath.Walk(p.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		fmt.Printf("walk %s: %v\n", p.dir, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("%s: %d objects, %d bytes\n", p.dir, files, bytes)
	return subcommands.ExitSuccess
}
