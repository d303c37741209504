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

//go:build amd64

package bundle

import "golang.org/x/sys/cpu"

// init picks the logical bundle width for this process from the
// widest vector extension the CPU reports. The solver's kernels are plain Go
// loops over a bundle regardless of level — there is no archsimd/assembly
// backend here — but sizing bundles to match the hardware's native register
// width keeps the AOSOA column stores cache-friendly and keeps the choice
// honest for when an assembly backend is added later.
func init() {
	if NoSimdEnv() {
		setScalarMode()
		return
	}
	switch {
	case cpu.X86.HasAVX512F:
		currentLevel = DispatchAVX512
		currentWidth = 64
	case cpu.X86.HasAVX2:
		currentLevel = DispatchAVX2
		currentWidth = 32
	default:
		setScalarMode()
	}
}

func setScalarMode() {
	currentLevel = DispatchScalar
	currentWidth = 16 // 16-byte (4-lane float32) bundles even without AVX.
}
