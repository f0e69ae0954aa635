package main

import "github.com/aweris/refcache/cmd/refcache/cmd"

func main() {
	cmd.Execute()
}
