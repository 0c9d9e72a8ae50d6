// Command 4s-dump writes a segment's quads as TriX
// (http://www.w3.org/2004/03/trix/trix-1/) to stdout, resolving each
// RID through rhash along the way (spec §6.4, SUPPLEMENTED FEATURES).
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

type trixRoot struct {
	XMLName xml.Name `xml:"TriX"`
	Xmlns   string   `xml:"xmlns,attr"`
	Graphs  []trixGraph
}

type trixGraph struct {
	XMLName xml.Name `xml:"graph"`
	URI     string   `xml:"uri"`
	Triples []trixTriple
}

type trixTriple struct {
	XMLName xml.Name `xml:"triple"`
	Terms   []trixTerm
}

type trixTerm struct {
	URI     string `xml:"uri,omitempty"`
	Literal string `xml:"plainLiteral,omitempty"`
	ID      string `xml:"id,omitempty"`
}

func main() {
	app := &cli.App{
		Name:      "4s-dump",
		Usage:     "dump a segment's quads as TriX",
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

	byGraph := map[rid.RID][]rid.Quad{}
	seg.AllQuads(func(q rid.Quad) bool {
		byGraph[q.G] = append(byGraph[q.G], q)
		return true
	})

	doc := trixRoot{Xmlns: "http://www.w3.org/2004/03/trix/trix-1/"}
	for g, quads := range byGraph {
		tg := trixGraph{URI: resolveTerm(seg, g).uri()}
		for _, q := range quads {
			tg.Triples = append(tg.Triples, trixTriple{Terms: []trixTerm{
				resolveTerm(seg, q.S), resolveTerm(seg, q.P), resolveTerm(seg, q.O),
			}})
		}
		doc.Graphs = append(doc.Graphs, tg)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if _, err := w.WriteString(xml.Header); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return enc.Encode(doc)
}

func resolveTerm(seg *segment.Segment, r rid.RID) trixTerm {
	resources := []rid.Resource{{RID: r}}
	if err := seg.Resolve(resources); err != nil || resources[0].Lex == "" {
		return trixTerm{URI: fmt.Sprintf("urn:4store:rid:%d", uint64(r))}
	}
	res := resources[0]
	if res.Attr == rid.NULL {
		return trixTerm{URI: res.Lex}
	}
	return trixTerm{Literal: res.Lex}
}

func (t trixTerm) uri() string { return t.URI }
