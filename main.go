package main

import "github.com/Yates-Labs/f1rag/cmd"

func main() {
	cmd.Execute()
}
