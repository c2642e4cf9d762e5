package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(os.Stderr, err)
	}
}
