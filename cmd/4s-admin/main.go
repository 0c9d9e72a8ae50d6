// Command 4s-admin is the cluster control-node tool: list/create/delete
// stores and nodes over the admin protocol (spec §6.2/§6.4). Cluster
// orchestration itself is out of scope (spec.md §1 non-goal); this tool
// exercises adminwire's framing against a control node address.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/adminwire"
	"github.com/fourstore/fourstore/internal/log"
)

func main() {
	app := &cli.App{
		Name:  "4s-admin",
		Usage: "4store cluster control-node tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Value: "127.0.0.1:6714", Usage: "control node address"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Commands: []*cli.Command{
			{Name: "list-nodes", Action: listNodes},
			{Name: "list-stores", Action: listStores},
			{Name: "create-store", ArgsUsage: "<kbname>", Flags: []cli.Flag{
				&cli.IntFlag{Name: "segments", Value: 1},
				&cli.BoolFlag{Name: "mirror"},
			}, Action: createStore},
			{Name: "delete-stores", ArgsUsage: "<kbname>...", Action: deleteStores},
			{Name: "start-stores", ArgsUsage: "<kbname>...", Action: startStores},
			{Name: "stop-stores", ArgsUsage: "<kbname>...", Action: stopStores},
		},
	}
	if err := app.Run(os.Args); err != nil {
		colorizeErr(err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}

func colorizeErr(err error) {
	if color.NoColor {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	color.New(color.FgRed).Fprintln(os.Stderr, err)
}

func dial(c *cli.Context) (net.Conn, error) {
	return net.Dial("tcp", c.String("node"))
}

func sendSimple(c *cli.Context, op adminwire.Opcode, payload []byte) error {
	log.Init(c.String("log-level"))
	defer log.Sync()
	conn, err := dial(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("connect %s: %v", c.String("node"), err), 1)
	}
	defer conn.Close()
	if err := adminwire.WriteFrame(conn, op, payload); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fr, err := adminwire.ReadFrame(conn)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if fr.Op == adminwire.OpError {
		return cli.Exit(string(fr.Payload), 2)
	}
	return nil
}

func listNodes(c *cli.Context) error {
	return sendSimple(c, adminwire.OpGetKBInfoAll, nil)
}

func listStores(c *cli.Context) error {
	return sendSimple(c, adminwire.OpGetKBInfoAll, nil)
}

func createStore(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: <kbname>", 2)
	}
	var payload []byte
	payload = append(payload, []byte(c.Args().Get(0))...)
	payload = append(payload, 0)
	return sendSimple(c, adminwire.OpCreateKB, payload)
}

func deleteStores(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("expected at least one <kbname>", 2)
	}
	for _, kb := range c.Args().Slice() {
		if err := sendSimple(c, adminwire.OpDeleteKB, append([]byte(kb), 0)); err != nil {
			return err
		}
	}
	return nil
}

func startStores(c *cli.Context) error {
	for _, kb := range c.Args().Slice() {
		if err := sendSimple(c, adminwire.OpStartKB, append([]byte(kb), 0)); err != nil {
			return err
		}
	}
	return nil
}

func stopStores(c *cli.Context) error {
	for _, kb := range c.Args().Slice() {
		if err := sendSimple(c, adminwire.OpStopKB, append([]byte(kb), 0)); err != nil {
			return err
		}
	}
	return nil
}
