package main

import "github.com/edgeflare/stations/cmd/stations"

func main() {
	stations.Main()
}
