package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"vozlab.mx/conversa/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
