package main

import "medcoder/cmd"

func main() {
	cmd.Execute()
}
