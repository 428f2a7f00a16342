// Copyright 2026 The gVisor Authors.
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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gvisor.dev/dpoll/pkg/cleanup"
)

// writePidFile writes the current pid to path, replacing a regular file
// atomically through a rename.
func writePidFile(path string) error {
	pid := []byte(strconv.Itoa(os.Getpid()))

	st, err := os.Stat(path)
	switch {
	case err == nil && !st.Mode().IsRegular():
		// Named pipes and the like are written in place.
		if err := os.WriteFile(path, pid, 0644); err != nil {
			return fmt.Errorf("failed to write pid file %s: %w", path, err)
		}
		return nil
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("stat file %s failed: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "pid-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp pid file for %s: %w", path, err)
	}
	cu := cleanup.Make(func() { _ = os.Remove(tmp.Name()) })
	defer cu.Clean()

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod pid file %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(pid); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pid file %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp pid file %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp pid file %s -> %s: %w", tmp.Name(), path, err)
	}
	cu.Release()
	return nil
}
