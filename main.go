package main

import (
	"os"

	"github.com/confsync/confsync/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
