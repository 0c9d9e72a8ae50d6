// Command 4s-rid prints the RID 4store would assign to a URI or
// literal term, for debugging bind patterns by hand (spec §6.4,
// grounded on the original engine's 4s-rid utility).
package main

import (
	"fmt"
	"os"
	"regexp"

	"github.com/fourstore/fourstore/internal/rid"
)

var (
	reLangLiteral = regexp.MustCompile(`^"([^"]*)"@(\S+)$`)
	reTypedLiteral = regexp.MustCompile(`^"([^"]*)"\^\^(\S+)$`)
	rePlainLiteral = regexp.MustCompile(`^"([^"]*)"$`)
	reURI          = regexp.MustCompile(`^<([^>]*)>$`)
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <uri> | \"literal\"\n", os.Args[0])
		os.Exit(1)
	}
	term := os.Args[1]

	var r rid.RID
	switch {
	case reLangLiteral.MatchString(term):
		m := reLangLiteral.FindStringSubmatch(term)
		r = rid.FromLiteral(m[1], rid.FromURI(m[2]))
	case reTypedLiteral.MatchString(term):
		m := reTypedLiteral.FindStringSubmatch(term)
		r = rid.FromLiteral(m[1], rid.FromURI(m[2]))
	case rePlainLiteral.MatchString(term):
		m := rePlainLiteral.FindStringSubmatch(term)
		r = rid.FromLiteral(m[1], rid.NULL)
	case reURI.MatchString(term):
		m := reURI.FindStringSubmatch(term)
		r = rid.FromURI(m[1])
	default:
		fmt.Fprintf(os.Stderr, "Couldn't recognise a URI or literal in string %q\n", term)
		os.Exit(1)
	}

	fmt.Printf("%016X\n", uint64(r))
}
