// Copyright 2024 Google LLC
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

package common

// FOP names intercepted by the negative-lookup cache. Trimmed to the subset
// nl-cache actually probes or mutates on; the rest of the FOP vocabulary
// passes through the host unseen.
const (
	OpLookUpInode   = "LookUpInode"
	OpGetXattr      = "GetXattr"
	OpMkDir         = "MkDir"
	OpMkNode        = "MkNode"
	OpCreateFile    = "CreateFile"
	OpCreateLink    = "CreateLink"
	OpCreateSymlink = "CreateSymlink"
	OpRename        = "Rename"
	OpRmDir         = "RmDir"
	OpUnlink        = "Unlink"
)
