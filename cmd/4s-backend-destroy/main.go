// Command 4s-backend-destroy wipes a segment's contents, or with --force
// removes the knowledge base's whole store directory (spec §6.4).
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
		Name:      "4s-backend-destroy",
		Usage:     "destroy a segment's contents",
		ArgsUsage: "<kbname>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "segment", Aliases: []string{"s"}, Value: 0},
			&cli.BoolFlag{Name: "force", Usage: "remove the knowledge base's whole store directory, every segment included"},
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
			if c.Bool("force") {
				if err := root.RemoveKB(kbname); err != nil {
					return cli.Exit(err.Error(), 1)
				}
				log.Infow("4s-backend-destroy: removed store directory", "kbname", kbname)
				return nil
			}
			segDir := root.SegmentPath(kbname, c.Int("segment"))
			seg, err := segment.Open(segDir, c.Int("segment"), false)
			if err != nil {
				return cli.Exit(fmt.Sprintf("open segment: %v", err), 1)
			}
			defer seg.Close()
			if err := seg.WipeAll(); err != nil {
				return cli.Exit(fmt.Sprintf("wipe segment: %v", err), 1)
			}
			log.Infow("4s-backend-destroy: wiped segment", "kbname", kbname, "segment", c.Int("segment"))
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
