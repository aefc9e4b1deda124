package main

import (
	"os"

	"github.com/solai17/bytefeed/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
