package main

import "researchEngine/internal/cli"

func main() {
	cli.Execute()
}
