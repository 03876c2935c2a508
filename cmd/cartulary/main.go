package main

import (
	"os"

	"github.com/cartulary/cartulary/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
