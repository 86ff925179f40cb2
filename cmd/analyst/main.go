package main

import "github.com/contenox/analyst/internal/analystcli"

func main() {
	analystcli.Main()
}
