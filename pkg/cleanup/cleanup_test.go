// Copyright 2020 The gVisor Authors.
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


package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// build returns a Cleanup whose functions record their index in order.
func build(order *[]int, n int) Cleanup {
	var cu Cleanup
	for i := 0; i < n; i++ {
		cu.Add(func() { *order = append(*order, i) })
	}
	return cu
}

func TestClean(t *testing.T) {
	for _, tc := range []struct {
		name string
		n    int
		want []int
	}{
		{name: "empty", n: 0},
		{name: "one", n: 1, want: []int{0}},
		{name: "reverse", n: 3, want: []int{2, 1, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var order []int
			cu := build(&order, tc.n)
			cu.Clean()
			if diff := cmp.Diff(tc.want, order); diff != "" {
				t.Errorf("Clean() order mismatch (-want +got):\n%s", diff)
			}

			// A second Clean is a no-op.
			cu.Clean()
			if diff := cmp.Diff(tc.want, order); diff != "" {
				t.Errorf("second Clean() ran functions again (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMake(t *testing.T) {
	var order []int
	cu := Make(func() { order = append(order, 1) })
	cu.Add(func() { order = append(order, 2) })
	cu.Clean()
	if diff := cmp.Diff([]int{2, 1}, order); diff != "" {
		t.Errorf("Clean() order mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	var order []int
	undo := func() func() {
		cu := build(&order, 2)
		defer cu.Clean()
		return cu.Release()
	}()
	if len(order) != 0 {
		t.Fatalf("released functions ran on Clean: %v", order)
	}
	undo()
	if diff := cmp.Diff([]int{1, 0}, order); diff != "" {
		t.Errorf("released functions order mismatch (-want +got):\n%s", diff)
	}
}
