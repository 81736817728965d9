package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nofeaturesonlybugs/stomp/v2/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRoot(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
