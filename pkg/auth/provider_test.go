// Copyright 2023 LiveKit, Inc.
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

package auth_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/auth"
)

func TestFileBasedKeyProvider(t *testing.T) {
	keys := map[string]string{
		"key1": "secret1",
		"key2": "secret2",
		"key3": "secret3",
	}
	name := filepath.Join(t.TempDir(), "keyfile")
	require.NoError(t, os.WriteFile(name, []byte("key1: secret1\nkey2: secret2 \r\n\nkey3: secret3"), 0o600))

	r, err := os.Open(name)
	require.NoError(t, err)
	defer r.Close()

	p, err := auth.NewFileBasedKeyProvider(r)
	require.NoError(t, err)
	require.Equal(t, 3, p.NumKeys())
	for key, val := range keys {
		require.Equal(t, val, p.GetSecret(key))
	}

	fromMap := auth.NewFileBasedKeyProviderFromMap(keys)
	require.Equal(t, "secret2", fromMap.GetSecret("key2"))
	require.Empty(t, fromMap.GetSecret("missing"))
}
