// Command researchctl is a terminal client for the research gateway.
package main

func main() {
	Execute()
}
