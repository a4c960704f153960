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

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
)

// runQuery filters a JSONL export (one history row or event record per
// line — the shape pkg/events.FileSink writes and the shape an operator
// would dump uow_history into) through a jq-style gojq expression. This
// is the engine's only query surface: the business API deliberately stays
// out of scope (spec.md §1), so auditing has to read the append-only log
// directly rather than query through a transport this repo never builds.
func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	filePath := fs.String("file", "", "path to a JSONL export (defaults to stdin)")
	expr := fs.String("expr", ".", "gojq filter expression")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query, err := gojq.Parse(*expr)
	if err != nil {
		return fmt.Errorf("parse jq expression: %w", err)
	}

	var in io.Reader = os.Stdin
	if *filePath != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			return fmt.Errorf("open %s: %w", *filePath, err)
		}
		defer f.Close()
		in = f
	}

	return filterJSONLines(in, os.Stdout, query)
}

func filterJSONLines(in io.Reader, out io.Writer, query *gojq.Query) error {
	encoder := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record any
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("parse JSONL line: %w", err)
		}

		iter := query.Run(record)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return fmt.Errorf("jq evaluation: %w", err)
			}
			if err := encoder.Encode(v); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
		}
	}
	return scanner.Err()
}
