package cmd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const banner = `
  _____                __      _______  _   _ 
 |_   _|               \ \    / /  __ \| \ | |
   | |  _ __ ___  _ __  \ \  / /| |__) |  \| |
   | | | '__/ _ \| '_ \  \ \/ / |  ___/| . ` + "`" + ` |
  _| |_| | | (_) | | | |  \  /  | |    | |\  |
 |_____|_|  \___/|_| |_|   \/   |_|    |_| \_|
                                              
`

// printBanner colours the banner only when w is a terminal.
func printBanner(w io.Writer) {
	if !isTerminal(w) {
		fmt.Fprint(w, banner)
		fmt.Fprintf(w, "  CRL Distribution Point - Version %s\n\n", Version)
		return
	}
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  CRL Distribution Point - Version %s\x1b[0m\n\n", Version)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
