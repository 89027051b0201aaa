// Command bookshelf は読書記録アプリのバックエンドを起動する。
//
//	bookshelf [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/bookshelf/internal/app"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		fmt.Fprint(os.Stdout, app.Usage())
		return
	}

	if err := app.Run(os.Stdout, args); err != nil {
		fmt.Fprintf(os.Stderr, "bookshelf: %v\n", err)
		os.Exit(1)
	}
}
