package main

import "bg-algo-checker/internal/cli"

func main() {
	cli.Execute()
}
