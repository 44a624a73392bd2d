package main

import "github.com/stelliform/go-oracled/internal/cli"

func main() {
	cli.Execute()
}
