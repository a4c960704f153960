/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command constitution-engine is the composition root: it wires
// configuration, the storage driver, the event sink, and the zombie
// sweeper together behind two subcommands, `serve` and `query`.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: constitution-engine <serve|query> [flags]")
		os.Exit(2)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	var cmdErr error
	switch os.Args[1] {
	case "serve":
		cmdErr = runServe(ctx, os.Args[2:], zapLogger)
	case "query":
		cmdErr = runQuery(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, cmdErr)
		os.Exit(1)
	}
}
