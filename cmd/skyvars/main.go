// Command skyvars resolves ${file(PATH):ADDRESS} configuration variables.
package main

import (
	"os"

	"github.com/albertocavalcante/skyvars/internal/cmd/skyvars"
)

func main() {
	os.Exit(skyvars.Run(os.Args[1:]))
}
