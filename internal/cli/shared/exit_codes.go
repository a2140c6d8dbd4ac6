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
	"fmt"
	"os"

	pkgerrors "github.com/steroids-dev/steroids/pkg/errors"
)

// HandleExitError prints err (if any) to stderr and exits the process with
// the exit code the error taxonomy assigns, falling back to ExitGeneric for
// untyped errors.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printUserVisibleSuggestion(err)
	os.Exit(pkgerrors.ExitCode(err))
}

// printUserVisibleSuggestion walks the error chain for a UserVisibleError and
// prints its suggestion, if any.
func printUserVisibleSuggestion(err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if s := userErr.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = pkgerrors.Unwrap(err)
	}
}
