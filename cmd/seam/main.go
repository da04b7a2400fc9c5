package main

import "github.com/seam-dev/seam/internal/cli"

func main() {
	cli.Execute()
}
