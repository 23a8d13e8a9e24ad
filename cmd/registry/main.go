// Command registry builds the symbol registry from a symbols YAML file and
// prints every identifier with its canonical name and aliases.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
	"cryptofeeds/models"
)

func main() {
	log := logger.GetLogger()

	defaultPath := os.Getenv("SYMBOL_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/symbols.yml"
	}
	path := flag.String("symbols", defaultPath, "Path to symbols file")
	lookup := flag.String("lookup", "", "Resolve one native symbol instead of listing the registry")
	kind := flag.String("type", "spot", "Instrument type used with -lookup")
	flag.Parse()

	reg, err := symbols.Load(*path)
	if err != nil {
		log.WithError(err).WithField("path", *path).Error("Failed to build symbol registry")
		os.Exit(1)
	}

	if *lookup != "" {
		it, err := models.ParseInstrumentType(*kind)
		if err != nil {
			log.WithError(err).Error("Invalid instrument type")
			os.Exit(1)
		}
		id, ok := reg.Lookup(*lookup, it)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s (%s) is not registered\n", *lookup, it)
			os.Exit(2)
		}
		name, _ := reg.Symbol(id)
		fmt.Printf("%d\t%s\n", id, name)
		return
	}

	if err := list(os.Stdout, reg); err != nil {
		log.WithError(err).Error("Failed to print registry")
		os.Exit(1)
	}
}

func list(w io.Writer, reg *symbols.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCANONICAL\tALIASES")
	for i := 0; i < reg.Len(); i++ {
		id := symbols.SymbolID(i)
		name, _ := reg.Symbol(id)
		fmt.Fprintf(tw, "%d\t%s\t%s\n", id, name, strings.Join(reg.Aliases(id), " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d symbols\n", reg.Len())
	return err
}
