package main

import (
	"github.com/softrl/softrl/examples"
)

func main() {
	examples.SACPointMass()
}
