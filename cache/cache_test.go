// Copyright 2026 The Exposure Engine Authors
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

package cache

import (
	"sync"
	"testing"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected 1 to still be cached")
	}
	// 1 is now most-recently-used; 2 is the eviction candidate.
	c.Put(3, "c")
	if _, ok := c.Get(2); ok {
		t.Fatalf("expected 2 to have been evicted")
	}
	if v, ok := c.Get(1); !ok || v != "a" {
		t.Fatalf("expected 1=%q to survive, got %q ok=%t", "a", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != "c" {
		t.Fatalf("expected 3=%q to be cached, got %q ok=%t", "c", v, ok)
	}
}

func TestLRUHasDistinguishesZeroValueFromMiss(t *testing.T) {
	c := New[string, bool](4)
	c.Put("cached-false", false)
	if !c.Has("cached-false") {
		t.Fatalf("Has should report true for a cached zero value")
	}
	if v, ok := c.Get("cached-false"); !ok || v != false {
		t.Fatalf("Get should return (false, true), got (%t, %t)", v, ok)
	}
	if c.Has("never-looked-up") {
		t.Fatalf("Has should report false for a key never put")
	}
}

func TestLRUDisabledModeIsAlwaysAMiss(t *testing.T) {
	c := New[int, string](0)
	c.Put(1, "a")
	if _, ok := c.Get(1); ok {
		t.Fatalf("disabled cache must never report a hit")
	}
	if c.Has(1) {
		t.Fatalf("disabled cache must never report Has")
	}
	if c.Len() != 0 {
		t.Fatalf("disabled cache must report Len()==0, got %d", c.Len())
	}
}

func TestLRUPutExistingKeyUpdatesValueAndRecency(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(1, "a2")
	c.Put(3, "c") // should evict 2, the now-least-recently-used key.
	if _, ok := c.Get(2); ok {
		t.Fatalf("expected 2 to have been evicted")
	}
	if v, ok := c.Get(1); !ok || v != "a2" {
		t.Fatalf("expected updated value %q for 1, got %q ok=%t", "a2", v, ok)
	}
}

func TestGuardedSerializesConcurrentAccess(t *testing.T) {
	g := NewGuarded[int, int](New[int, int](16))
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Put(i%16, i)
			g.Get(i % 16)
		}()
	}
	wg.Wait()
	if g.Len() > 16 {
		t.Fatalf("guarded LRU exceeded its capacity: len=%d", g.Len())
	}
}
