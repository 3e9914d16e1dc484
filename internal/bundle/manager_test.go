package bundle

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// fakeEngineFS is an in-memory stand-in satisfying bundle.EngineFS, mirroring
// the teacher's pattern of swapping billy.Filesystem implementations between
// production and test code.
type fakeEngineFS struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newFakeEngineFS() *fakeEngineFS {
	return &fakeEngineFS{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (f *fakeEngineFS) Write(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeEngineFS) MkdirAll(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeEngineFS) Get(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.files[path]
	return v, ok
}

type testBundleServer struct {
	mu        sync.Mutex
	hits      map[string]int
	payload   []byte
	meta      Metadata
	bundleErr bool
}

func newTestBundleServer(name string, files map[string]string) *httptest.Server {
	var payload bytes.Buffer
	var offset int64
	meta := Metadata{Name: name}
	for path, content := range files {
		start := offset
		payload.WriteString(content)
		offset += int64(len(content))
		meta.Files = append(meta.Files, FileExtent{
			Path:  "/texlive/texmf-dist/tex/latex/" + name,
			Name:  path,
			Start: start,
			End:   offset,
		})
	}
	meta.TotalSize = offset

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Write(payload.Bytes())
	gw.Close()

	srv := &testBundleServer{hits: map[string]int{}, payload: gz.Bytes(), meta: meta}
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/bundles/%s.data.gz", name), func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		srv.hits["data"]++
		srv.mu.Unlock()
		w.Write(srv.payload)
	})
	mux.HandleFunc(fmt.Sprintf("/bundles/%s.meta.json", name), func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		srv.hits["meta"]++
		srv.mu.Unlock()
		json.NewEncoder(w).Encode(srv.meta)
	})
	return httptest.NewServer(mux)
}

func TestManagerLoadBundleThreeTierCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newTestBundleServer("amsmath", map[string]string{"amsmath.sty": "\\ProvidesPackage{amsmath}"})
	defer srv.Close()

	st, err := store.OpenMem(ctx)
	require.NoError(t, err)
	defer st.Close()

	mgr := NewManager(NewRegistry(), st, &RegistryLoader{BaseURL: srv.URL}, nil)

	payload, err := mgr.LoadBundle(ctx, "amsmath")
	require.NoError(t, err)
	assert.Contains(t, string(payload), "ProvidesPackage")

	// Second load must hit the in-process cache, not the network again.
	_, err = mgr.LoadBundle(ctx, "amsmath")
	require.NoError(t, err)

	// Evict the in-process cache; the blob store tier should still avoid network.
	mgr.cache.Invalidate()

	_, err = mgr.LoadBundle(ctx, "amsmath")
	require.NoError(t, err)
}

func TestManagerLoadBundleConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/bundles/amsmath.data.gz", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var gz bytes.Buffer
		gw := gzip.NewWriter(&gz)
		gw.Write([]byte("payload"))
		gw.Close()
		w.Write(gz.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st, err := store.OpenMem(ctx)
	require.NoError(t, err)
	defer st.Close()

	mgr := NewManager(NewRegistry(), st, &RegistryLoader{BaseURL: srv.URL}, nil)

	const n = 10
	results := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := mgr.LoadBundle(ctx, "amsmath")
			require.NoError(t, err)
			results[i] = payload
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "at most one network request for N concurrent callers")
}

func TestManagerMountBundleWritesEachExtent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newTestBundleServer("geometry", map[string]string{
		"geometry.sty": "package-one-contents",
		"geometry.cfg": "package-two-contents",
	})
	defer srv.Close()

	st, err := store.OpenMem(ctx)
	require.NoError(t, err)
	defer st.Close()

	mgr := NewManager(NewRegistry(), st, &RegistryLoader{BaseURL: srv.URL}, nil)
	fs := newFakeEngineFS()

	require.NoError(t, mgr.MountBundle(ctx, "geometry", fs))

	sty, ok := fs.Get("/texlive/texmf-dist/tex/latex/geometry/geometry.sty")
	require.True(t, ok)
	assert.Equal(t, "package-one-contents", string(sty))

	cfg, ok := fs.Get("/texlive/texmf-dist/tex/latex/geometry/geometry.cfg")
	require.True(t, ok)
	assert.Equal(t, "package-two-contents", string(cfg))
}
