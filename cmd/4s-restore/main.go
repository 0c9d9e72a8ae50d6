// Command 4s-restore reads TriX from stdin and loads it into a segment
// via the same start_import/quad_import/stop_import sequence a wire
// client would use (spec §6.4, SUPPLEMENTED FEATURES).
package main

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/storeroot"
)

type trixDoc struct {
	Graphs []trixGraph `xml:"graph"`
}

type trixGraph struct {
	URI     string       `xml:"uri"`
	Triples []trixTriple `xml:"triple"`
}

type trixTriple struct {
	Terms []trixTerm `xml:",any"`
}

type trixTerm struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func main() {
	app := &cli.App{
		Name:      "4s-restore",
		Usage:     "load a TriX document from stdin into a segment",
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

	var doc trixDoc
	dec := xml.NewDecoder(bufio.NewReader(os.Stdin))
	if err := dec.Decode(&doc); err != nil {
		return cli.Exit(fmt.Sprintf("parse TriX: %v", err), 1)
	}

	seg.StartImport()
	seen := map[rid.RID]bool{}
	insert := func(r rid.RID, lex string, attr rid.RID) error {
		if seen[r] {
			return nil
		}
		seen[r] = true
		return seg.InsertResource(rid.Resource{RID: r, Attr: attr, Lex: lex})
	}

	var n int
	for _, g := range doc.Graphs {
		graphRID := rid.FromURI(g.URI)
		if err := insert(graphRID, g.URI, rid.NULL); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		for _, t := range g.Triples {
			if len(t.Terms) != 3 {
				continue
			}
			rids := make([]rid.RID, 3)
			for i, term := range t.Terms {
				r, lex, attr := termToRID(term)
				rids[i] = r
				if err := insert(r, lex, attr); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}
			if err := seg.InsertQuad(rid.Quad{G: graphRID, S: rids[0], P: rids[1], O: rids[2]}); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			n++
		}
	}
	if err := seg.StopImport(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(os.Stderr, "4s-restore: loaded %d triples\n", n)
	return nil
}

// termToRID classifies a TriX term element (uri/id/plainLiteral/typedLiteral)
// and returns its RID plus the (lex, attr) pair to store alongside it. Any
// element other than uri or id is hashed as a literal with a NULL attr; a
// typedLiteral's datatype is not recorded.
func termToRID(t trixTerm) (r rid.RID, lex string, attr rid.RID) {
	switch t.XMLName.Local {
	case "id":
		return rid.WithTag(rid.TypeBlank, uint64(rid.FromURI(t.Value))), t.Value, rid.NULL
	case "uri":
		return rid.FromURI(t.Value), t.Value, rid.NULL
	default:
		return rid.FromLiteral(t.Value, rid.NULL), t.Value, rid.NULL
	}
}
