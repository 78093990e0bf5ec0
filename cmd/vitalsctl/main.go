package main

import "wisefido-vitals/internal/cli"

func main() {
	cli.Execute()
}
