package main

import (
	"os"

	"github.com/alexvolkov/dexbot/internal/app"
)

func main() {
	os.Exit(app.NewRunner().Run(os.Args[1:]))
}
