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

package inode

import (
	"sync"

	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/freemap"
)

// Table is the single in-memory home for every open inode, keyed by its
// sector number, so two opens of the same file share one Inode (and one
// open/deny-write count) instead of racing two independent views of the
// same on-disk record.
type Table struct {
	cache *cache.Cache
	alloc freemap.Allocator

	mu    sync.Mutex
	inodes map[uint32]*Inode
}

func NewTable(c *cache.Cache, alloc freemap.Allocator) *Table {
	return &Table{cache: c, alloc: alloc, inodes: make(map[uint32]*Inode)}
}

// Get returns the resident Inode for sector, loading it from the cache on
// first reference.
func (t *Table) Get(sector uint32) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if in, ok := t.inodes[sector]; ok {
		return in, nil
	}
	in, err := Load(t.cache, t.alloc, sector)
	if err != nil {
		return nil, err
	}
	t.inodes[sector] = in
	return in, nil
}

// Put registers an already-constructed Inode (from Create), for when the
// caller built it directly instead of loading it back from disk.
func (t *Table) Put(in *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inodes[in.Sector] = in
}

// Forget removes sector's Inode from the table, for use once its open
// count has hit zero and it has been freed.
func (t *Table) Forget(sector uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inodes, sector)
}
