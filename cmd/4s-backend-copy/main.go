// Command 4s-backend-copy copies one segment's directory tree to a new
// location, for standing up a replica or relocating a KB (spec §6.4).
// It operates at the filesystem level; the segment must not be open for
// writing by another process while this runs.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/storeroot"
)

func main() {
	app := &cli.App{
		Name:      "4s-backend-copy",
		Usage:     "copy a segment directory to a new knowledge base name",
		ArgsUsage: "<src-kbname> <dst-kbname>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "segment", Aliases: []string{"s"}, Value: 0},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: func(c *cli.Context) error {
			log.Init(c.String("log-level"))
			defer log.Sync()
			if c.NArg() != 2 {
				return cli.Exit("expected two arguments: <src-kbname> <dst-kbname>", 2)
			}
			root, err := storeroot.Open("")
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			src := root.SegmentPath(c.Args().Get(0), c.Int("segment"))
			dst := root.SegmentPath(c.Args().Get(1), c.Int("segment"))
			if err := root.EnsureDir(dst); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := copyTree(root.Fs, src, dst); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			log.Infow("4s-backend-copy: copied segment", "src", src, "dst", dst)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func copyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(dstPath, info.Mode())
		}
		in, err := fs.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := fs.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
