package main

import "github.com/odyssey-erp/odyssey-iam/cmd/iamctl/cmd"

func main() {
	cmd.Execute()
}
