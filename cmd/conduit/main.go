package main

import (
	"os"

	"github.com/G-Research/conduit/cmd/conduit/cmd"
	"github.com/G-Research/conduit/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
