// Command 4s-backend is the per-segment storage daemon: it opens one
// segment and serves bind/ingest/purge requests over the wire protocol
// until told to stop (spec §6.4).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/server"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/storeroot"
)

func main() {
	app := &cli.App{
		Name:  "4s-backend",
		Usage: "serve one segment of a 4store knowledge base",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "daemon", Aliases: []string{"D"}, Usage: "accepted and ignored; this build always runs in the foreground"},
			&cli.StringFlag{Name: "limit", Aliases: []string{"l"}, Usage: "minimum free disk space before start_import refuses (e.g. 512M)", EnvVars: []string{"FS_DISK_LIMIT", "DISK_LIMIT"}},
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:6712", Usage: "address to serve the wire protocol on"},
			&cli.IntFlag{Name: "segment", Aliases: []string{"s"}, Value: 0, Usage: "segment index within the knowledge base"},
			&cli.StringFlag{Name: "password", EnvVars: []string{"FS_BACKEND_PASSWORD"}},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		ArgsUsage: "<kbname>",
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
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

	seg, err := segment.Open(segDir, c.Int("segment"), false)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open segment: %v", err), 1)
	}

	minFree, err := parseLimit(c.String("limit"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("bad --limit %q: %v", c.String("limit"), err), 2)
	}

	var salt [4]byte
	srv, err := server.New(seg, server.Auth{KBName: kbname, Password: c.String("password"), Salt: salt}, filepath.Join(segDir, ".lock"), minFree)
	if err != nil {
		seg.Close()
		return cli.Exit(err.Error(), 1)
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen %s: %v", c.String("listen"), err), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR2)
	go func() {
		for s := range sig {
			if s == syscall.SIGUSR2 {
				log.Infow("4s-backend: reload requested", "kbname", kbname, "segment", c.Int("segment"))
				// Reload hook point (spec §5): a real reload would close and
				// reopen seg's index files; this build logs the signal only.
				continue
			}
			log.Infow("4s-backend: shutting down", "signal", s.String())
			cancel()
			return
		}
	}()

	log.Infow("4s-backend: serving", "kbname", kbname, "segment", c.Int("segment"), "addr", c.String("listen"))
	return srv.Serve(ctx, ln)
}

func parseLimit(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n := len(s)
	mult := uint64(1)
	switch s[n-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:n-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:n-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:n-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}
