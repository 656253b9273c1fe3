// Copyright 2025 Google LLC
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

// Command nlcached is a scripted demo host for the negative-lookup cache
// library: it owns an in-memory inode table and a FOP trace, wiring
// internal/fop's interceptors and internal/invalidation's handler the way a
// real filesystem host would.
package main

import "github.com/nlcache/nlc/cmd/nlcached/cmd"

func main() {
	cmd.Execute()
}
