package main

import (
	"os"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
