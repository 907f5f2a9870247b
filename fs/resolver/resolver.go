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

// Package resolver walks multi-component paths down to the directory and
// final-component name the facade needs, the same job gcsfuse's
// fs.FileSystem.LookUpInode does one component at a time against GCS
// object names, done here one component at a time against directory
// entries.
package resolver

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ondiskfs/blockfs/internal/blockerr"
	"github.com/ondiskfs/blockfs/fs/directory"
	"github.com/ondiskfs/blockfs/fs/inode"
)

// Table is the subset of inode.Table the resolver needs: loading an inode
// by sector.
type Table interface {
	Get(sector uint32) (*inode.Inode, error)
}

// Resolver resolves paths against a fixed root sector and a table of
// resident inodes.
type Resolver struct {
	Table      Table
	RootSector uint32
}

func New(table Table, rootSector uint32) *Resolver {
	return &Resolver{Table: table, RootSector: rootSector}
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve walks path down to its containing directory, returning that
// directory (open) and the final component's name. If path is exactly "/"
// (or empty after splitting), finalName is "" and dir is root.
//
// cwdSector is the caller's current-directory inode sector, used as the
// starting point for relative paths; it is ignored for absolute paths.
func (r *Resolver) Resolve(path string, cwdSector uint32) (dir *directory.Directory, finalName string, err error) {
	startSector := cwdSector
	if strings.HasPrefix(path, "/") || cwdSector == 0 {
		startSector = r.RootSector
	}

	components := splitComponents(path)
	if len(components) == 0 {
		in, err := r.Table.Get(r.RootSector)
		if err != nil {
			return nil, "", err
		}
		return directory.New(in), "", nil
	}

	currentSector := startSector
	for i := 0; i < len(components)-1; i++ {
		in, err := r.Table.Get(currentSector)
		if err != nil {
			return nil, "", err
		}
		dir := directory.New(in)

		childSector, err := dir.Lookup(components[i])
		if err != nil {
			return nil, "", err
		}
		childIn, err := r.Table.Get(childSector)
		if err != nil {
			return nil, "", err
		}
		if !childIn.IsDir {
			return nil, "", blockerr.ErrNotADirectory
		}
		currentSector = childSector
	}

	in, err := r.Table.Get(currentSector)
	if err != nil {
		return nil, "", err
	}
	return directory.New(in), components[len(components)-1], nil
}

// ResolveToDirectory is like Resolve, but additionally requires the final
// component to itself be a directory, returning that directory open.
func (r *Resolver) ResolveToDirectory(path string, cwdSector uint32) (*directory.Directory, error) {
	parent, name, err := r.Resolve(path, cwdSector)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return parent, nil
	}

	sector, err := parent.Lookup(name)
	if err != nil {
		return nil, err
	}
	in, err := r.Table.Get(sector)
	if err != nil {
		return nil, err
	}
	if !in.IsDir {
		return nil, blockerr.ErrNotADirectory
	}
	return directory.New(in), nil
}

// WalkResult summarizes one visited directory during Walk.
type WalkResult struct {
	Sector  uint32
	Path    string
	Entries []string
}

// Walk is a supplemental diagnostic operation: it fans out one goroutine
// per directory entry using errgroup (entries that are not directories
// return at once), recursively collecting every
// directory's entry names. It is meant for an offline consistency check (a
// "blockfsctl fsck"-style walk), not for the hot path, so the concurrency
// is keyed off errgroup rather than the resolver's normal synchronous
// calls.
func (r *Resolver) Walk(ctx context.Context, startSector uint32, startPath string) ([]WalkResult, error) {
	in, err := r.Table.Get(startSector)
	if err != nil {
		return nil, err
	}
	if !in.IsDir {
		return nil, blockerr.ErrNotADirectory
	}
	dir := directory.New(in)

	var names []string
	cur := &directory.Cursor{}
	for {
		name, ok, err := dir.ReadDir(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		names = append(names, name)
	}

	results := []WalkResult{{Sector: startSector, Path: startPath, Entries: names}}

	g, ctx := errgroup.WithContext(ctx)
	childResults := make([][]WalkResult, len(names))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			sector, err := dir.Lookup(name)
			if err != nil {
				return err
			}
			childIn, err := r.Table.Get(sector)
			if err != nil {
				return err
			}
			if !childIn.IsDir {
				return nil
			}
			sub, err := r.Walk(ctx, sector, joinPath(startPath, name))
			if err != nil {
				return err
			}
			childResults[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, sub := range childResults {
		results = append(results, sub...)
	}
	return results, nil
}
