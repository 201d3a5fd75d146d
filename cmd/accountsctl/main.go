package main

import "github.com/ivankudzin/tgaccounts/internal/cli"

func main() {
	cli.Execute()
}
