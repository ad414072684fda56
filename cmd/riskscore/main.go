package main

import (
	"github.com/mchmarny/riskscore/pkg/cli"
)

func main() {
	cli.Execute()
}
