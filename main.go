package main

import (
	"github.com/destacey/calsync/cmd"
)

func main() {
	cmd.Execute()
}
