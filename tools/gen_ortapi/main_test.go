package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const header = `
typedef struct OrtApiBase OrtApiBase;

struct OrtApi {
  /// \brief Create an OrtStatus
  OrtStatus*(ORT_API_CALL* CreateStatus)(OrtErrorCode code, _In_ const char* msg)NO_EXCEPTION;

  OrtErrorCode(ORT_API_CALL* GetErrorCode)(_In_ const OrtStatus* status) NO_EXCEPTION;

  const char*(ORT_API_CALL* GetErrorMessage)(_In_ const OrtStatus* status)NO_EXCEPTION;

  /* Environment */
  ORT_API2_STATUS(CreateEnv, OrtLoggingLevel log_severity_level, _Outptr_ OrtEnv** out);
  ORT_CLASS_RELEASE(Env);
  void(ORT_API_CALL* ReleaseStatus)(_Frees_ptr_opt_ OrtStatus* input);
};

struct OrtCustomOp {
  ORT_API2_STATUS(NotPartOfOrtApi, int x);
};
`

func TestParseOrtAPI(t *testing.T) {
	entries, err := parseOrtAPI(strings.NewReader(header))
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	require.Equal(t, []string{"CreateStatus", "GetErrorCode", "GetErrorMessage", "CreateEnv", "ReleaseEnv", "ReleaseStatus"}, names)
	require.Equal(t, 13, entries[3].Line)
}

func TestParseOrtAPIErrors(t *testing.T) {
	_, err := parseOrtAPI(strings.NewReader("struct Other {\n};\n"))
	require.ErrorContains(t, err, "struct OrtApi not found")

	dup := "struct OrtApi {\n  ORT_API2_STATUS(CreateEnv, int);\n  ORT_API2_STATUS(CreateEnv, int);\n};\n"
	_, err = parseOrtAPI(strings.NewReader(dup))
	require.ErrorContains(t, err, "duplicate entry CreateEnv")
}

func TestTruncateAndCheckSlots(t *testing.T) {
	entries, err := parseOrtAPI(strings.NewReader(header))
	require.NoError(t, err)

	require.NoError(t, checkSlots(entries, map[string]int{"CreateEnv": 3, "FarAway": 400}))
	require.ErrorContains(t, checkSlots(entries, map[string]int{"CreateEnv": 2}), "CreateEnv at slot 3, expected 2")
	require.ErrorContains(t, checkSlots(entries, map[string]int{"Missing": 1}), "Missing not found")

	head, err := truncate(entries, "CreateEnv")
	require.NoError(t, err)
	require.Len(t, head, 4)
	_, err = truncate(entries, "Nope")
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	entries := []Entry{{Name: "CreateStatus"}, {Name: "GetErrorCode"}, {Name: "RegisterCustomOpsLibrary_V2"}}
	var buf bytes.Buffer
	require.NoError(t, render(&buf, entries, "onnxruntime_c_api.h"))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "// Code generated by gen_ortapi from onnxruntime_c_api.h. DO NOT EDIT.\n"))
	require.Contains(t, out, "package ort\n")
	require.Contains(t, out, "\tCreateStatus                uintptr\n")
	require.Contains(t, out, "\tRegisterCustomOpsLibrary_V2 uintptr\n")
}

func writeHeader(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "onnxruntime_c_api.h")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generate(writeHeader(t, header), "CreateEnv", &buf))
	require.Contains(t, buf.String(), "CreateEnv")
	require.NotContains(t, buf.String(), "ReleaseEnv")
}

func TestGenerateRejectsUnexpectedLayout(t *testing.T) {
	shifted := strings.Replace(header, "  const char*(ORT_API_CALL* GetErrorMessage)(_In_ const OrtStatus* status)NO_EXCEPTION;\n", "", 1)

	var buf bytes.Buffer
	err := generate(writeHeader(t, shifted), "", &buf)
	require.ErrorContains(t, err, "header layout not understood")
	require.Zero(t, buf.Len())
}
