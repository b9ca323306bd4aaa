package main

import "github.com/ValentinKolb/scoll/cmd"

func main() {
	cmd.Execute()
}
