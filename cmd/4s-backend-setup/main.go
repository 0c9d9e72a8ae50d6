// Command 4s-backend-setup creates a fresh segment directory and its
// index files (spec §6.4).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/storeroot"
)

func main() {
	app := &cli.App{
		Name:      "4s-backend-setup",
		Usage:     "create a new segment directory and its index files",
		ArgsUsage: "<kbname>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "segment", Aliases: []string{"s"}, Value: 0},
			&cli.BoolFlag{Name: "mirror", Usage: "contract-only flag threaded through adminwire, no replication is implemented"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: func(c *cli.Context) error {
			log.Init(c.String("log-level"))
			defer log.Sync()
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one argument: <kbname>", 2)
			}
			kbname := c.Args().Get(0)
			root, err := storeroot.Open("")
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			segDir := root.SegmentPath(kbname, c.Int("segment"))
			if err := root.EnsureDir(segDir); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			seg, err := segment.Open(segDir, c.Int("segment"), true)
			if err != nil {
				return cli.Exit(fmt.Sprintf("create segment: %v", err), 1)
			}
			defer seg.Close()
			log.Infow("4s-backend-setup: created segment", "kbname", kbname, "segment", c.Int("segment"), "dir", segDir)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
