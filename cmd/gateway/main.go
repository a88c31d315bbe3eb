// Package main is the entry point for the gateway.
package main

func main() {
	Execute()
}
