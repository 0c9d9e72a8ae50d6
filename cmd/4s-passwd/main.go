// Command 4s-passwd sets or clears a knowledge base's access password,
// stored in its metadata file as a salt plus the salted digest (spec
// §6.1/§6.5).
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/store/metadata"
	"github.com/fourstore/fourstore/internal/storeroot"
	"github.com/fourstore/fourstore/internal/wire"
)

func main() {
	app := &cli.App{
		Name:      "4s-passwd",
		Usage:     "set a knowledge base's access password",
		ArgsUsage: "<kbname> [password]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "remove the password, allowing unauthenticated access"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("expected at least one argument: <kbname>", 2)
	}
	kbname := c.Args().Get(0)
	root, err := storeroot.Open("")
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	metaPath := root.KBPath(kbname) + "/metadata.nt"
	meta, err := metadata.Open(metaPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("clear") {
		meta.Set(metadata.Salt, "")
		meta.Set(metadata.Hash, "")
		if err := meta.Flush(); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Println("password cleared")
		return nil
	}

	if c.NArg() != 2 {
		return cli.Exit("expected: <kbname> <password>", 2)
	}
	password := c.Args().Get(1)

	var salt [4]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	digest := wire.AuthDigest(kbname, password, salt)

	meta.Set(metadata.Salt, fmt.Sprintf("%x", salt))
	meta.Set(metadata.Hash, fmt.Sprintf("%x", digest))
	if err := meta.Flush(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println("password set")
	return nil
}
