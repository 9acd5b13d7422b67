/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package clock

import (
	"golang.org/x/sys/unix"
)

// synced asks the kernel about clock state via adjtimex(2).
// TIME_ERROR means the clock is not synchronized to a reliable server,
// which is exactly the state a Pi without Internet boots into.
func (c *Clock) synced() bool {
	state, err := unix.Adjtimex(&unix.Timex{})
	if err != nil {
		// If we cannot ask the kernel, fall back to the upstream signal.
		return c.upstreamOK.Load()
	}
	return state != unix.TIME_ERROR
}
