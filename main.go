package main

import (
	"os"

	"github.com/smartdl/smartdl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
