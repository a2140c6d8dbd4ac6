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

package sections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/store"
)

func TestNewCommand_WiresListAndShowSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["list"])
	require.True(t, names["show"])
}

func TestListCommand_PrintsSections(t *testing.T) {
	dir := t.TempDir()
	st, err := shared.OpenProjectStore(dir)
	require.NoError(t, err)
	require.NoError(t, st.UpsertSection(context.Background(), &store.Section{ID: "s1", Name: "core", Position: 0}))
	require.NoError(t, st.Close())

	cmd := NewCommand()
	cmd.SetArgs([]string{"list", "--project", dir})
	require.NoError(t, cmd.Execute())
}

func TestShowCommand_ErrorsForMissingSection(t *testing.T) {
	dir := t.TempDir()
	st, err := shared.OpenProjectStore(dir)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd := NewCommand()
	cmd.SetArgs([]string{"show", "missing", "--project", dir})
	require.Error(t, cmd.Execute())
}
