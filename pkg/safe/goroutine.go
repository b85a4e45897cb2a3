// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package safe runs functions with panic recovery. The driver binaries
// wrap their own bookkeeping goroutines (poll loops, stats tickers,
// signal watchers) in it so a panic in one of them surfaces as a logged
// stack trace instead of a dead process. Handler callbacks are not
// wrapped one by one, but ringnet-mux runs its whole poll loop inside Do,
// so a handler panic there is recovered, logged with its stack trace, and
// ends that poll loop.
package safe

import (
	"runtime/debug"

	"github.com/ringnet-io/ringnet/pkg/rlog"
)

// Go runs f on a new goroutine with panic recovery.
func Go(f func()) {
	go Do(f)
}

// Do runs f, recovering any panic and logging it with its stack trace.
func Do(f func()) {
	defer func() {
		if r := recover(); r != nil {
			rlog.Errorw("recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	f()
}
