// Command gen_ortapi regenerates the OrtApi function table declared in
// ort/types.go from onnxruntime_c_api.h.
//
// Only the prefix of the table up to --through is emitted, since the ort
// package never reads past it. Parsing is line based and regex driven, so
// the slot checks below are what catches a header layout it does not
// understand.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

// DefaultThrough is the last OrtApi entry the ort package binds.
const DefaultThrough = "RegisterCustomOpsLibrary_V2"

// knownSlots are zero-based OrtApi indices the ort package depends on.
var knownSlots = map[string]int{
	"CreateEnv":                                     3,
	"CreateTensorWithDataAsOrtValue":                49,
	"GetTensorMutableData":                          51,
	"CreateMemoryInfo":                              68,
	"ReleaseEnv":                                    92,
	"GetAvailableProviders":                         125,
	"RunWithBinding":                                133,
	"ClearBoundOutputs":                             142,
	"SessionOptionsAppendExecutionProvider_CUDA_V2": 204,
	"CreateCUDAProviderOptions":                     205,
	"ReleaseCUDAProviderOptions":                    208,
	"RegisterCustomOpsLibrary_V2":                   228,
}

var (
	structStart   = regexp.MustCompile(`^struct OrtApi \{`)
	structEnd     = regexp.MustCompile(`^\s*\};`)
	api2Status    = regexp.MustCompile(`ORT_API2_STATUS\((\w+),`)
	funcPtr       = regexp.MustCompile(`^\s+(OrtStatus|OrtErrorCode|const char|void)\s*\(\s*ORT_API_CALL\s*\*\s*(\w+)\)`)
	funcPtrStar   = regexp.MustCompile(`^\s+(OrtStatus|OrtErrorCode|const char)\s*\*\s*\(\s*ORT_API_CALL\s*\*\s*(\w+)\)`)
	classRelease  = regexp.MustCompile(`ORT_CLASS_RELEASE\((\w+)\)`)
	commentPrefix = []string{"//", "/*", "*"}
)

// Entry is one function pointer of struct OrtApi.
type Entry struct {
	Name string
	Line int
}

// parseOrtAPI returns the OrtApi entries of the header in declaration order.
func parseOrtAPI(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []Entry
	inStruct, found := false, false
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if !inStruct {
			if structStart.MatchString(text) {
				inStruct, found = true, true
			}
			continue
		}
		if structEnd.MatchString(text) {
			break
		}
		if isComment(text) {
			continue
		}
		if name := entryName(text); name != "" {
			entries = append(entries, Entry{Name: name, Line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("struct OrtApi not found")
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate entry %s at line %d", e.Name, e.Line)
		}
		seen[e.Name] = true
	}
	return entries, nil
}

func isComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, p := range commentPrefix {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func entryName(line string) string {
	if m := api2Status.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := funcPtr.FindStringSubmatch(line); m != nil {
		return m[2]
	}
	if m := funcPtrStar.FindStringSubmatch(line); m != nil {
		return m[2]
	}
	if m := classRelease.FindStringSubmatch(line); m != nil {
		return "Release" + m[1]
	}
	return ""
}

// truncate keeps entries up to and including through.
func truncate(entries []Entry, through string) ([]Entry, error) {
	for i, e := range entries {
		if e.Name == through {
			return entries[:i+1], nil
		}
	}
	return nil, fmt.Errorf("entry %s not found", through)
}

// checkSlots verifies every known slot that falls inside entries.
func checkSlots(entries []Entry, slots map[string]int) error {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Name] = i
	}
	for name, want := range slots {
		if want >= len(entries) {
			continue
		}
		got, ok := index[name]
		if !ok {
			return fmt.Errorf("%s not found, expected at slot %d", name, want)
		}
		if got != want {
			return fmt.Errorf("%s at slot %d, expected %d", name, got, want)
		}
	}
	return nil
}

// render writes a gofmt'ed Go declaration of the table.
func render(w io.Writer, entries []Entry, source string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by gen_ortapi from %s. DO NOT EDIT.\n\n", source)
	buf.WriteString("package ort\n\n")
	buf.WriteString("// OrtApi mirrors the leading part of the ONNX Runtime C API function table.\n")
	buf.WriteString("type OrtApi struct {\n")
	for _, e := range entries {
		fmt.Fprintf(&buf, "\t%s uintptr\n", e.Name)
	}
	buf.WriteString("}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("format generated code: %w", err)
	}
	_, err = w.Write(src)
	return err
}

func generate(header string, through string, out io.Writer) error {
	f, err := os.Open(header)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := parseOrtAPI(f)
	if err != nil {
		return err
	}
	if err := checkSlots(entries, knownSlots); err != nil {
		return fmt.Errorf("header layout not understood: %w", err)
	}
	if through != "" {
		if entries, err = truncate(entries, through); err != nil {
			return err
		}
	}
	return render(out, entries, header)
}

func main() {
	var through, output string
	cmd := &cobra.Command{
		Use:          "gen_ortapi <onnxruntime_c_api.h>",
		Short:        "Generate the OrtApi struct from the ONNX Runtime C header.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return generate(args[0], through, out)
		},
	}
	cmd.Flags().StringVar(&through, "through", DefaultThrough, "last entry to emit; empty emits the whole table")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
