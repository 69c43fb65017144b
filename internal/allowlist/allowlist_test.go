// Copyright (c) 2022 The rcproxy Authors
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

package allowlist_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/internal/allowlist"
)

func writeAllowFile(t *testing.T, dir, body string) string {
	t.Helper()
	file := filepath.Join(dir, "allowlist.yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
	return file
}

func TestList_DisabledAllowsEveryone(t *testing.T) {
	dir := t.TempDir()
	writeAllowFile(t, dir, "enable: false\nallow: [\"1.2.3.4\"]\n")

	l, err := allowlist.Load(dir, "allowlist.yaml")
	require.NoError(t, err)
	assert.True(t, l.Allow("9.9.9.9"))
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestList_EnabledRestrictsToAllowedIPs(t *testing.T) {
	dir := t.TempDir()
	writeAllowFile(t, dir, "enable: true\nallow: [\"1.2.3.4\", \"5.6.7.8\"]\n")

	l, err := allowlist.Load(dir, "allowlist.yaml")
	require.NoError(t, err)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))
	assert.False(t, l.Allow("9.9.9.9"))
}

func TestList_NilListAllowsEveryone(t *testing.T) {
	var l *allowlist.List
	assert.True(t, l.Allow("anything"))
}

func TestList_MissingFileErrors(t *testing.T) {
	_, err := allowlist.Load(t.TempDir(), "nope.yaml")
	assert.Error(t, err)
}

func TestList_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeAllowFile(t, dir, "enable: true\nallow: [\"1.2.3.4\"]\n")

	l, err := allowlist.Load(dir, "allowlist.yaml")
	require.NoError(t, err)
	require.False(t, l.Allow("5.6.7.8"))

	writeAllowFile(t, dir, "enable: true\nallow: [\"1.2.3.4\", \"5.6.7.8\"]\n")

	require.Eventually(t, func() bool {
		return l.Allow("5.6.7.8")
	}, 2*time.Second, 10*time.Millisecond)
}
