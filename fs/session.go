// Copyright 2015 Google Inc. All Rights Reserved.
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

package fs

import "sync"

// Session binds one caller's current-directory state to a FileSystem, the
// equivalent of a single kernel thread's current-working-directory. A
// FileSystem is shared by many Sessions; a Session is not safe for
// concurrent use by multiple goroutines (the same way a single thread's
// cwd is never contended).
type Session struct {
	fs  *FileSystem
	mu  sync.Mutex
	cwd uint32
}

// NewSession creates a Session rooted at fs's root directory.
func (fs *FileSystem) NewSession() *Session {
	return &Session{fs: fs, cwd: fs.RootSector()}
}

func (s *Session) Create(path string, isDir bool) (uint32, error) {
	return s.fs.Create(path, s.cwdSector(), isDir)
}

func (s *Session) Mkdir(path string) (uint32, error) {
	return s.fs.Mkdir(path, s.cwdSector())
}

func (s *Session) Open(path string, denyWrite bool) (*Handle, error) {
	return s.fs.OpenHandle(path, s.cwdSector(), denyWrite)
}

func (s *Session) Remove(path string) error {
	return s.fs.Remove(path, s.cwdSector())
}

// Chdir resolves path to a directory and makes it the session's current
// directory.
func (s *Session) Chdir(path string) error {
	dir, err := s.fs.resolve.ResolveToDirectory(path, s.cwdSector())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cwd = dir.In.Sector
	s.mu.Unlock()
	return nil
}

func (s *Session) cwdSector() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}
