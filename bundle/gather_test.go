// Copyright 2025 go-highway Authors
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

package bundle

import (
	"testing"
)

func TestGatherIndex(t *testing.T) {
	src := []float32{10, 20, 30, 40, 50, 60, 70, 80}

	tests := []struct {
		name    string
		indices []int32
		want    []float32
	}{
		{
			name:    "identity",
			indices: []int32{0, 1, 2, 3},
			want:    []float32{10, 20, 30, 40},
		},
		{
			name:    "shuffled",
			indices: []int32{3, 0, 2, 1},
			want:    []float32{40, 10, 30, 20},
		},
		{
			name:    "repeated",
			indices: []int32{5, 5, 5, 5},
			want:    []float32{60, 60, 60, 60},
		},
		{
			name:    "out of bounds lanes read zero",
			indices: []int32{-1, 1, 100, 2},
			want:    []float32{0, 20, 0, 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GatherIndex(src, Vec[int32]{data: tt.indices})
			for i := range tt.want {
				if result.data[i] != tt.want[i] {
					t.Errorf("GatherIndex lane %d: got %v, want %v", i, result.data[i], tt.want[i])
				}
			}
		})
	}
}

func TestGatherIndexInt64(t *testing.T) {
	src := []float64{1.5, 2.5, 3.5, 4.5}
	result := GatherIndex(src, Vec[int64]{data: []int64{2, 0, 3, 1}})
	want := []float64{3.5, 1.5, 4.5, 2.5}
	for i := range want {
		if result.data[i] != want[i] {
			t.Errorf("GatherIndex lane %d: got %v, want %v", i, result.data[i], want[i])
		}
	}
}

func TestScatterIndexMasked(t *testing.T) {
	tests := []struct {
		name    string
		indices []int32
		mask    []bool
		want    []float32
	}{
		{
			name:    "all lanes active",
			indices: []int32{0, 2, 4, 6},
			mask:    []bool{true, true, true, true},
			want:    []float32{1, -1, 2, -1, 3, -1, 4, -1},
		},
		{
			name:    "masked lanes leave destination untouched",
			indices: []int32{0, 2, 4, 6},
			mask:    []bool{true, false, true, false},
			want:    []float32{1, -1, -1, -1, 3, -1, -1, -1},
		},
		{
			name:    "out of bounds active lanes are skipped",
			indices: []int32{0, -5, 100, 3},
			mask:    []bool{true, true, true, true},
			want:    []float32{1, -1, -1, 4, -1, -1, -1, -1},
		},
		{
			name:    "nothing active",
			indices: []int32{0, 1, 2, 3},
			mask:    []bool{false, false, false, false},
			want:    []float32{-1, -1, -1, -1, -1, -1, -1, -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := []float32{-1, -1, -1, -1, -1, -1, -1, -1}
			v := Vec[float32]{data: []float32{1, 2, 3, 4}}
			ScatterIndexMasked(v, dst, Vec[int32]{data: tt.indices}, Mask[float32]{bits: tt.mask})
			for i := range tt.want {
				if dst[i] != tt.want[i] {
					t.Errorf("ScatterIndexMasked dst[%d]: got %v, want %v", i, dst[i], tt.want[i])
				}
			}
		})
	}
}

func TestGatherScatterRoundTrip(t *testing.T) {
	src := []float32{10, 20, 30, 40, 50, 60, 70, 80}
	indices := Vec[int32]{data: []int32{7, 5, 3, 1}}

	v := GatherIndex(src, indices)

	dst := make([]float32, len(src))
	ScatterIndexMasked(v, dst, indices, TailMask[float32](len(indices.data)))

	for _, idx := range indices.data {
		if dst[idx] != src[idx] {
			t.Errorf("round trip dst[%d]: got %v, want %v", idx, dst[idx], src[idx])
		}
	}
}
