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

package auth

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type FileBasedKeyProvider struct {
	keys map[string]string
}

// NewFileBasedKeyProvider reads `key: secret` pairs, one per line.
func NewFileBasedKeyProvider(r io.Reader) (p *FileBasedKeyProvider, err error) {
	scanner := bufio.NewScanner(r)
	keys := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid api key/secret pair, must be api_key: secret: %v", line)
		}
		keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	if err = scanner.Err(); err != nil {
		return
	}
	p = &FileBasedKeyProvider{
		keys: keys,
	}

	return
}

func NewFileBasedKeyProviderFromMap(keys map[string]string) *FileBasedKeyProvider {
	return &FileBasedKeyProvider{
		keys: keys,
	}
}

func (p *FileBasedKeyProvider) GetSecret(key string) string {
	return p.keys[key]
}

func (p *FileBasedKeyProvider) NumKeys() int {
	return len(p.keys)
}
