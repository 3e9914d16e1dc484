// Copyright 2024 LatentFS Authors
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
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// lz4FrameMagic is the four-byte magic of an LZ4 framed stream (§9
// "Compression").
var lz4FrameMagic = []byte{0x04, 0x22, 0x4D, 0x18}

// Decompress decompresses a bundle payload. gzip is always attempted first;
// failing that, the LZ4 framed magic is sniffed as an optional secondary
// format. Anything else is Malformed.
func Decompress(raw []byte) ([]byte, error) {
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		return decompressGzip(raw)
	}
	if len(raw) >= 4 && bytes.Equal(raw[:4], lz4FrameMagic) {
		return decompressLZ4(raw)
	}
	return nil, common.NewError(common.KindMalformed, "Decompress", fmt.Errorf("unrecognised bundle payload magic"))
}

func decompressGzip(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, common.NewError(common.KindMalformed, "decompressGzip", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, common.NewError(common.KindMalformed, "decompressGzip", err)
	}
	return out, nil
}

func decompressLZ4(raw []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(raw))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, common.NewError(common.KindMalformed, "decompressLZ4", err)
	}
	return out, nil
}
