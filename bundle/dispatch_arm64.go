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

//go:build arm64

package bundle

import "golang.org/x/sys/cpu"

// ARM64 (AArch64) always has NEON (ASIMD) available; it's part of the
// ARMv8-A base architecture. The solver sizes its bundles to NEON's 128-bit
// register width so the column stores stay cache-friendly on ARM hosts.
func init() {
	if NoSimdEnv() {
		currentLevel = DispatchScalar
		currentWidth = 16
		return
	}

	if cpu.ARM64.HasASIMD {
		currentLevel = DispatchNEON
		currentWidth = 16
	} else {
		currentLevel = DispatchScalar
		currentWidth = 16
	}
}
