package main

import "github.com/mlindgren/vitrine/cmd/vitrine/cmd"

func main() {
	cmd.Execute()
}
