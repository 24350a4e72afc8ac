package main

import (
	"os"

	"github.com/G-Research/capstan/cmd/capstan/cmd"
	"github.com/G-Research/capstan/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
