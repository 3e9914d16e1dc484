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

package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SiglumProject/busytex-lazy/internal/common"
	"github.com/SiglumProject/busytex-lazy/internal/util"
)

// fetchFileEntry is one entry of a /api/fetch/<name> response's files map.
type fetchFileEntry struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// fetchResponse is the decoded shape of /api/fetch/<name> (§6 "Package proxy JSON API").
type fetchResponse struct {
	Name         string                     `json:"name"`
	Files        map[string]fetchFileEntry  `json:"files"`
	Dependencies []string                   `json:"dependencies"`
	TotalFiles   int                        `json:"totalFiles"`
	Error        string                     `json:"error,omitempty"`
}

// pkgResponse is the decoded shape of /api/pkg/<name>; Miktex/Texlive carry
// the parent-package alias signal when present.
type pkgResponse struct {
	Name    string `json:"name"`
	Miktex  string `json:"miktex,omitempty"`
	Texlive string `json:"texlive,omitempty"`
}

// depsResponse is the decoded shape of /api/deps/<name>.
type depsResponse struct {
	Package      string   `json:"package"`
	Dependencies []string `json:"dependencies"`
}

// fetchResult is fetchPackage's success shape (§4.3 "fetchPackage").
type fetchResult struct {
	Files        map[string][]byte
	Dependencies []string
}

func (f *Fetcher) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// callFetch issues GET <proxy>/api/fetch/<name>. ok=false with a nil error
// means the proxy reported the package does not exist (404 or
// {"error":...}); a non-nil error is either transient or a malformed
// response body, and is never negative-cached.
func (f *Fetcher) callFetch(ctx context.Context, name string) (*fetchResult, bool, error) {
	url := fmt.Sprintf("%s/api/fetch/%s", f.ProxyBaseURL, name)

	var body []byte
	var notFound bool
	err := util.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := f.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %q: unexpected status %d", name, resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, util.NetworkRetryOptions(ctx, 3)...)
	if err != nil {
		return nil, false, common.NewError(common.KindTransientIO, "callFetch", err)
	}
	if notFound {
		return nil, false, nil
	}

	var decoded fetchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false, common.NewError(common.KindMalformed, "callFetch", err)
	}
	if decoded.Error != "" {
		return nil, false, nil
	}

	files := make(map[string][]byte, len(decoded.Files))
	for canonicalPath, entry := range decoded.Files {
		var data []byte
		if entry.Encoding == "base64" {
			d, err := base64.StdEncoding.DecodeString(entry.Content)
			if err != nil {
				return nil, false, common.NewError(common.KindMalformed, "callFetch", fmt.Errorf("decode %q: %w", canonicalPath, err))
			}
			data = d
		} else {
			data = []byte(entry.Content)
		}
		files[canonicalPath] = data
	}

	return &fetchResult{Files: files, Dependencies: decoded.Dependencies}, true, nil
}

// callPkg issues GET <proxy>/api/pkg/<name> and returns the alias parent
// name, if the proxy reports one.
func (f *Fetcher) callPkg(ctx context.Context, name string) (parent string, ok bool, err error) {
	url := fmt.Sprintf("%s/api/pkg/%s", f.ProxyBaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, common.NewError(common.KindTransientIO, "callPkg", err)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return "", false, common.NewError(common.KindTransientIO, "callPkg", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, common.NewError(common.KindTransientIO, "callPkg", err)
	}
	var decoded pkgResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", false, common.NewError(common.KindMalformed, "callPkg", err)
	}

	if decoded.Miktex != "" && decoded.Miktex != name {
		return decoded.Miktex, true, nil
	}
	if decoded.Texlive != "" && decoded.Texlive != name {
		return decoded.Texlive, true, nil
	}
	return "", false, nil
}
