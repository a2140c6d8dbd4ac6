// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureStdout redirects os.Stdout into buf for the duration of the test,
// returning a function that restores the original stream.
func captureStdout(t *testing.T, buf *bytes.Buffer) func() {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		io.Copy(buf, r)
		close(done)
	}()

	return func() {
		os.Stdout = orig
		w.Close()
		<-done
		r.Close()
	}
}

// captureStderr redirects os.Stderr into buf for the duration of the test,
// returning a function that restores the original stream.
func captureStderr(t *testing.T, buf *bytes.Buffer) func() {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w

	done := make(chan struct{})
	go func() {
		io.Copy(buf, r)
		close(done)
	}()

	return func() {
		os.Stderr = orig
		w.Close()
		<-done
		r.Close()
	}
}

func TestFlagPointers_ReflectRegisteredValues(t *testing.T) {
	verbose, quiet, jsonOut, config := RegisterFlagPointers()
	*verbose = true
	*quiet = true
	*jsonOut = true
	*config = "/tmp/config.yaml"

	require.True(t, GetVerbose())
	require.True(t, GetQuiet())
	require.True(t, GetJSON())
	require.Equal(t, "/tmp/config.yaml", GetConfigPath())

	*verbose, *quiet, *jsonOut, *config = false, false, false, ""
}

func TestSetConfigPathForTest_OverridesFlagValue(t *testing.T) {
	original := GetConfigPath()
	defer SetConfigPathForTest(original)

	SetConfigPathForTest("/tmp/other.yaml")
	require.Equal(t, "/tmp/other.yaml", GetConfigPath())
}

func TestSetVersion_UpdatesGetVersion(t *testing.T) {
	v, c, b := GetVersion()
	defer SetVersion(v, c, b)

	SetVersion("1.2.3", "abcdef", "2026-01-01")
	gotV, gotC, gotB := GetVersion()
	require.Equal(t, "1.2.3", gotV)
	require.Equal(t, "abcdef", gotC)
	require.Equal(t, "2026-01-01", gotB)
}

type testUserVisibleError struct {
	visible    bool
	suggestion string
}

func (e *testUserVisibleError) Error() string        { return "underlying failure" }
func (e *testUserVisibleError) IsUserVisible() bool   { return e.visible }
func (e *testUserVisibleError) UserMessage() string   { return "user facing message" }
func (e *testUserVisibleError) Suggestion() string    { return e.suggestion }

func TestPrintUserVisibleSuggestion_PrintsWhenVisibleWithSuggestion(t *testing.T) {
	var buf bytes.Buffer
	origStderr := captureStderr(t, &buf)
	defer origStderr()

	printUserVisibleSuggestion(&testUserVisibleError{visible: true, suggestion: "try again later"})
	require.Contains(t, buf.String(), "try again later")
}

func TestPrintUserVisibleSuggestion_SkipsWhenNotVisible(t *testing.T) {
	var buf bytes.Buffer
	origStderr := captureStderr(t, &buf)
	defer origStderr()

	printUserVisibleSuggestion(&testUserVisibleError{visible: false, suggestion: "never shown"})
	require.NotContains(t, buf.String(), "never shown")
}

func TestEmitJSON_WritesIndentedEnvelope(t *testing.T) {
	var buf bytes.Buffer
	origStdout := captureStdout(t, &buf)
	defer origStdout()

	require.NoError(t, EmitJSON(JSONResponse{Version: "1.0", Command: "tasks list", Success: true}))

	var decoded JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "tasks list", decoded.Command)
	require.True(t, decoded.Success)
	require.True(t, strings.Contains(buf.String(), "\n  "))
}

func TestEmitJSONError_IncludesErrorsList(t *testing.T) {
	var buf bytes.Buffer
	origStdout := captureStdout(t, &buf)
	defer origStdout()

	require.NoError(t, EmitJSONError("tasks cancel", []JSONError{{Code: "not_found", Message: "task missing"}}))

	var decoded struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.False(t, decoded.Success)
	require.Len(t, decoded.Errors, 1)
	require.Equal(t, "not_found", decoded.Errors[0].Code)
}

func TestRenderOKWarnError_IncludeSymbolAndMessage(t *testing.T) {
	require.Contains(t, RenderOK("done"), "done")
	require.Contains(t, RenderWarn("careful"), "careful")
	require.Contains(t, RenderError("broken"), "broken")
}

func TestRenderStatus_BracketsLabel(t *testing.T) {
	require.Contains(t, RenderStatus(true, "RUNNING"), "[RUNNING]")
	require.Contains(t, RenderStatus(false, "STOPPED"), "[STOPPED]")
}
