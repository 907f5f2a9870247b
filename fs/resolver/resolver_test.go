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

package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ondiskfs/blockfs/internal/cache"
	"github.com/ondiskfs/blockfs/internal/device/fakedevice"
	"github.com/ondiskfs/blockfs/internal/freemap"
	"github.com/ondiskfs/blockfs/internal/metrics"
	"github.com/ondiskfs/blockfs/fs/directory"
	"github.com/ondiskfs/blockfs/fs/inode"
	"github.com/ondiskfs/blockfs/fs/resolver"
)

type ResolverTest struct {
	suite.Suite
	cache      *cache.Cache
	alloc      *freemap.Bitmap
	table      *inode.Table
	rootSector uint32
	resolver   *resolver.Resolver
}

func TestResolverSuite(t *testing.T) { suite.Run(t, new(ResolverTest)) }

func (t *ResolverTest) SetupTest() {
	dev := fakedevice.New(4096)
	t.cache = cache.New(dev, cache.DefaultSlotCount, metrics.NewCacheMetrics())
	t.alloc = freemap.New(4096)
	t.table = inode.NewTable(t.cache, t.alloc)

	sector, ok := t.alloc.Allocate()
	t.Require().True(ok)
	root := inode.New(t.cache, t.alloc, sector, true)
	t.Require().NoError(root.Persist())
	t.table.Put(root)
	t.rootSector = sector

	rootDir := directory.New(root)
	t.Require().NoError(rootDir.Add(".", sector))
	t.Require().NoError(rootDir.Add("..", sector))

	t.resolver = resolver.New(t.table, t.rootSector)
}

// mkdir creates a child directory named name under parentSector, wiring up
// "." and ".." the way the facade's Create does for is_dir targets.
func (t *ResolverTest) mkdir(parentSector uint32, name string) uint32 {
	sector, ok := t.alloc.Allocate()
	t.Require().True(ok)
	in := inode.New(t.cache, t.alloc, sector, true)
	t.Require().NoError(in.Persist())
	t.table.Put(in)

	d := directory.New(in)
	t.Require().NoError(d.Add(".", sector))
	t.Require().NoError(d.Add("..", parentSector))

	parentIn, err := t.table.Get(parentSector)
	t.Require().NoError(err)
	t.Require().NoError(directory.New(parentIn).Add(name, sector))
	return sector
}

func (t *ResolverTest) touch(parentSector uint32, name string) uint32 {
	sector, ok := t.alloc.Allocate()
	t.Require().True(ok)
	in := inode.New(t.cache, t.alloc, sector, false)
	t.Require().NoError(in.Persist())
	t.table.Put(in)

	parentIn, err := t.table.Get(parentSector)
	t.Require().NoError(err)
	t.Require().NoError(directory.New(parentIn).Add(name, sector))
	return sector
}

func (t *ResolverTest) TestResolveRootPath() {
	dir, name, err := t.resolver.Resolve("/", 0)
	t.Require().NoError(err)
	t.Equal("", name)
	t.Equal(t.rootSector, dir.In.Sector)
}

func (t *ResolverTest) TestResolveTopLevelFile() {
	t.touch(t.rootSector, "foo")
	dir, name, err := t.resolver.Resolve("/foo", 0)
	t.Require().NoError(err)
	t.Equal("foo", name)
	t.Equal(t.rootSector, dir.In.Sector)
}

func (t *ResolverTest) TestResolveNestedPath() {
	subSector := t.mkdir(t.rootSector, "sub")
	t.touch(subSector, "leaf")

	dir, name, err := t.resolver.Resolve("/sub/leaf", 0)
	t.Require().NoError(err)
	t.Equal("leaf", name)
	t.Equal(subSector, dir.In.Sector)
}

func (t *ResolverTest) TestResolveDotDot() {
	subSector := t.mkdir(t.rootSector, "sub")
	dir, name, err := t.resolver.Resolve("/sub/../sub", 0)
	t.Require().NoError(err)
	t.Equal("sub", name)
	t.Equal(t.rootSector, dir.In.Sector)
	_ = subSector
}

func (t *ResolverTest) TestResolveThroughFileFails() {
	t.touch(t.rootSector, "notadir")
	_, _, err := t.resolver.Resolve("/notadir/leaf", 0)
	t.Error(err)
}

func (t *ResolverTest) TestResolveToDirectoryRejectsFile() {
	t.touch(t.rootSector, "afile")
	_, err := t.resolver.ResolveToDirectory("/afile", 0)
	t.Error(err)
}

func (t *ResolverTest) TestResolveToDirectoryAcceptsDirectory() {
	subSector := t.mkdir(t.rootSector, "sub")
	dir, err := t.resolver.ResolveToDirectory("/sub", 0)
	t.Require().NoError(err)
	t.Equal(subSector, dir.In.Sector)
}

func (t *ResolverTest) TestWalkCollectsNestedEntries() {
	subSector := t.mkdir(t.rootSector, "sub")
	t.touch(t.rootSector, "top.txt")
	t.touch(subSector, "leaf.txt")

	results, err := t.resolver.Walk(context.Background(), t.rootSector, "/")
	t.Require().NoError(err)

	byPath := map[string][]string{}
	for _, r := range results {
		byPath[r.Path] = r.Entries
	}
	t.Contains(byPath, "/")
	t.Contains(byPath, "/sub")
}
