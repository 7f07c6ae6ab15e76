package main

import "github.com/ValentinKolb/ckv/cmd"

func main() {
	cmd.Execute()
}
