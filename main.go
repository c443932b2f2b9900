package main

import (
	"os"

	"github.com/zphilip/anything-llm-nas/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
