package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"relaybox.app/relay/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
