// Command 4s-size reports per-graph and total triple counts for a
// segment (spec §6.4, SUPPLEMENTED FEATURES' dump/debug routines).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/storeroot"
)

func main() {
	app := &cli.App{
		Name:      "4s-size",
		Usage:     "report triple counts for a segment",
		ArgsUsage: "<kbname>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "segment", Aliases: []string{"s"}, Value: 0},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: <kbname>", 2)
	}
	root, err := storeroot.Open("")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	segDir := root.SegmentPath(c.Args().Get(0), c.Int("segment"))
	seg, err := segment.Open(segDir, c.Int("segment"), false)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open segment: %v", err), 1)
	}
	defer seg.Close()

	var total uint64
	byGraph := map[rid.RID]uint64{}
	seg.AllQuads(func(q rid.Quad) bool {
		total++
		byGraph[q.G]++
		return true
	})

	fmt.Printf("segment %d: %d triples across %d graphs\n", c.Int("segment"), total, len(byGraph))
	for g, n := range byGraph {
		fmt.Printf("  %016X  %d\n", uint64(g), n)
	}
	return nil
}
