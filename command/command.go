/*
Copyright (c) Facebook, Inc. and its affiliates.

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

// Package command classifies inbound radio text against the gateway
// grammar and holds the response catalog. Anything that is not a
// recognized hashtag command is classified as None and produces no reply,
// so ordinary mesh chatter passes through untouched.
package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags a classified command.
type Kind int

const (
	// None means the text carried no recognized command.
	None Kind = iota
	// Report is a #osmnote report; Text holds the remainder after the tag.
	Report
	// Help is #osmhelp.
	Help
	// Status is #osmstatus.
	Status
	// Count is #osmcount.
	Count
	// List is #osmlist with an optional count argument.
	List
	// Queue is #osmqueue.
	Queue
	// Nodes is #osmnodes.
	Nodes
	// Lang is #osmlang with a language code argument.
	Lang
)

// List argument bounds.
const (
	ListDefault = 5
	ListMin     = 1
	ListMax     = 20
)

// Command is the classification result for one inbound text.
type Command struct {
	Kind Kind
	// Text is the report remainder for Report (may be empty, the policy
	// engine turns that into the missing-text rejection).
	Text string
	// N is the clamped list length for List.
	N int
	// Code is the requested language for Lang.
	Code string
}

// The report tag accepts three spellings, word-bounded so #osmnotetest is
// not treated as a report.
var reportTag = regexp.MustCompile(`(?i)#osm[-_]?note\b`)

// Classify maps one inbound text to a Command.
func Classify(text string) Command {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Command{Kind: None}
	}
	lower := strings.ToLower(trimmed)

	switch {
	case lower == "#osmhelp":
		return Command{Kind: Help}
	case lower == "#osmstatus":
		return Command{Kind: Status}
	case strings.HasPrefix(lower, "#osmcount"):
		return Command{Kind: Count}
	case strings.HasPrefix(lower, "#osmlist"):
		return Command{Kind: List, N: listArg(trimmed)}
	case lower == "#osmqueue":
		return Command{Kind: Queue}
	case lower == "#osmnodes":
		return Command{Kind: Nodes}
	case strings.HasPrefix(lower, "#osmlang"):
		return Command{Kind: Lang, Code: langArg(trimmed)}
	}

	if loc := reportTag.FindStringIndex(trimmed); loc != nil {
		remaining := strings.TrimSpace(reportTag.ReplaceAllString(trimmed, ""))
		return Command{Kind: Report, Text: remaining}
	}

	return Command{Kind: None}
}

// Normalize trims the text and collapses every run of ASCII whitespace to
// a single space. Case and diacritics are deliberately left alone: two
// reports differing only in accents are different reports.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// listArg extracts the optional #osmlist argument, clamped to
// [ListMin, ListMax]. Anything unparsable falls back to the default.
func listArg(text string) int {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ListDefault
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return ListDefault
	}
	if n < ListMin {
		n = ListMin
	}
	if n > ListMax {
		n = ListMax
	}
	return n
}

func langArg(text string) string {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
