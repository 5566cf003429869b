package main

import "github.com/lesleslie/crackerjack-sub006/internal/cmd"

func main() {
	cmd.Execute()
}
