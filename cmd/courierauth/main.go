package main

import "github.com/MrEthical07/courierAuth/cmd/courierauth/cmd"

func main() {
	cmd.Execute()
}
