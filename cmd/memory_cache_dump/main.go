// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// memory_cache_dump inspects the tutoring service's interaction archive.
//
// The archive persists finished tutoring runs in BadgerDB between service
// restarts; accepted runs feed worked-example retrieval. This tool opens
// the archive read-only and prints a human-readable summary: keys,
// outcomes, confidence, TTL remaining, and the problem and result text of
// each record.
//
// Usage:
//
//	memory_cache_dump [--path /path/to/mentor/data]
//
// If --path is not given, reads MENTOR_DATA_DIR from the environment,
// falling back to data/mentor (the configuration default).
//
// Exit codes:
//
//	0: success (including "empty archive", which prints a message and exits 0)
//	1: error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/MathMentor/services/mentor/memory"
)

// interactionKeyPrefix must match memory/store.go exactly.
const interactionKeyPrefix = "memory/interaction/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to the mentor BadgerDB directory (overrides MENTOR_DATA_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("MENTOR_DATA_DIR")
	}
	if dbPath == "" {
		dbPath = "data/mentor"
	}

	fmt.Printf("Interaction archive path: %s\n", dbPath)

	// Check existence before trying to open. That gives a cleaner error
	// message than BadgerDB's "no such file or directory" buried in a long
	// error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Archive directory does not exist. The service has not yet recorded any interactions.")
		fmt.Println("Start the mentor server and solve a problem to populate the archive.")
		os.Exit(0)
	}

	// Open read-only. No writes are performed.
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	// Collect all entries under the interaction key prefix.
	type entry struct {
		key       string
		expiresAt time.Time
		hasExpiry bool
		rawSize   int
		record    memory.InteractionRecord
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(interactionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var e entry
			e.key = string(item.Key())

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			rec, err := gobDecode(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.record = rec
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo archived interactions found.")
		fmt.Println("The service has opened the database but no tutoring run has reached a")
		fmt.Println("terminal state yet, or every record's TTL has expired.")
		os.Exit(0)
	}

	// Newest first.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].record.CreatedAt > entries[j].record.CreatedAt
	})

	fmt.Printf("\nFound %d archived interaction%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	outcomes := make(map[string]int)

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:         %s\n", i+1, e.key)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:         no expiry set\n")
		}

		fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		r := e.record
		outcomes[string(r.Outcome)]++

		fmt.Printf("    Outcome:     %s\n", r.Outcome)
		fmt.Printf("    Category:    %s\n", r.Category)
		if r.Strategy != "" {
			fmt.Printf("    Strategy:    %s\n", r.Strategy)
		}
		fmt.Printf("    Confidence:  %.4f\n", r.Confidence)
		fmt.Printf("    Rounds:      %d retr%s, %d clarification%s\n",
			r.Retries, plural(r.Retries, "y", "ies"),
			r.EscalationRounds, plural(r.EscalationRounds, "", "s"))
		fmt.Printf("    Duration:    %d ms\n", r.DurationMs)
		fmt.Printf("    Finished:    %s\n", time.UnixMilli(r.CreatedAt).UTC().Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("    Problem:     %s\n", truncate(r.ProblemText, 60))
		if r.Result != "" {
			fmt.Printf("    Result:      %s\n", truncate(r.Result, 60))
		}
		if r.Feedback != nil {
			fmt.Printf("    Feedback:    %s\n", r.Feedback.Type)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))

	// Outcome tally in sorted order so runs are comparable.
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, outcomes[name]))
	}

	fmt.Printf("Summary: %d interaction%s (%s), archive path: %s\n",
		len(entries), plural(len(entries), "", "s"), strings.Join(parts, ", "), dbPath)
}

// gobDecode deserializes an InteractionRecord from gob-encoded bytes.
// Must match memory/store.go exactly.
func gobDecode(data []byte) (memory.InteractionRecord, error) {
	var rec memory.InteractionRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return memory.InteractionRecord{}, err
	}
	return rec, nil
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "memory_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
