/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "crabbybot/cmd"

func main() {
	cmd.Execute()
}
