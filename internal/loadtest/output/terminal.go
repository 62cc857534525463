package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal reports terminals, including cygwin and mintty pipes.
func checkIsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
