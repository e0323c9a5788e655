package url

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// HTTPURL is a URL backed by an HTTP or HTTPS endpoint.
//
// Reads issue a single request and buffer the response body so callers can
// seek. Writes buffer the body (in memory, or in a scratch file when
// configured to spill) and issue a single request with the configured method
// and content type on Close.
type HTTPURL struct {
	raw  string
	mode Mode

	writeMethod string
	readMethod  string
	contentType string
	spillToFile bool

	response *memStream
	request  Stream
}

func init() {
	open := func(raw string, mode Mode) (URL, error) {
		return NewHTTPURL(raw, mode), nil
	}
	RegisterScheme("http", open)
	RegisterScheme("https", open)
}

// NewHTTPURL creates an HTTP URL using the process-wide HTTP configuration.
func NewHTTPURL(raw string, mode Mode) *HTTPURL {
	return &HTTPURL{
		raw:         raw,
		mode:        mode,
		writeMethod: options.HTTP.WriteMethod,
		readMethod:  options.HTTP.ReadMethod,
		contentType: options.HTTP.ContentType,
		spillToFile: options.HTTP.SpillToFile,
	}
}

func (u *HTTPURL) String() string { return u.raw }

func (u *HTTPURL) Mode() Mode { return u.mode }

// Expand returns the URL itself: HTTP has no way to discover sub-resources.
func (u *HTTPURL) Expand(ctx context.Context) ([]URL, error) {
	return []URL{u}, nil
}

func (u *HTTPURL) Delete(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.raw, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 400 {
		return Error.New("DELETE %s: %s", u.raw, res.Status)
	}
	return nil
}

func (u *HTTPURL) Exists(ctx context.Context) (bool, error) {
	res, err := u.head(ctx)
	if err != nil {
		return false, nil
	}
	defer func() { _ = res.Body.Close() }()
	return res.StatusCode < 400, nil
}

func (u *HTTPURL) Size(ctx context.Context) (int64, error) {
	res, err := u.head(ctx)
	if err != nil {
		return 0, nil
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 400 {
		return 0, nil
	}
	size, err := strconv.ParseInt(res.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, nil
	}
	return size, nil
}

func (u *HTTPURL) head(ctx context.Context) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(options.HTTP.TimeoutSecs)*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.raw, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

func (u *HTTPURL) Open(ctx context.Context) (Stream, error) {
	if u.mode.IsRead() {
		req, err := http.NewRequestWithContext(ctx, u.readMethod, u.raw, nil)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		defer func() { _ = res.Body.Close() }()
		if res.StatusCode >= 400 {
			return nil, Error.New("%s %s: %s", u.readMethod, u.raw, res.Status)
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		u.response = newMemStream(body)
		return u.response, nil
	}

	if u.spillToFile {
		scratch, err := scratchFile()
		if err != nil {
			return nil, err
		}
		u.request = scratch
		return scratch, nil
	}
	u.request = newMemStream(nil)
	return u.request, nil
}

func (u *HTTPURL) Close(ctx context.Context) error {
	u.response = nil
	if u.request == nil {
		return nil
	}
	body := u.request
	u.request = nil
	if scratch, ok := body.(*os.File); ok {
		defer func() {
			_ = scratch.Close()
			_ = os.Remove(scratch.Name())
		}()
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return Error.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, u.writeMethod, u.raw, body)
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Content-Type", u.contentType)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 400 {
		return Error.New("%s %s: %s", u.writeMethod, u.raw, res.Status)
	}
	return nil
}

func (u *HTTPURL) WithMode(mode Mode) URL {
	return NewHTTPURL(u.raw, mode)
}

// WithPath treats the given path as a complete replacement URL: HTTP URLs
// have no notion of a parent directory to reroot under.
func (u *HTTPURL) WithPath(path string) URL {
	return NewHTTPURL(path, u.mode)
}

// memStream is an in-memory Stream used to buffer HTTP bodies.
type memStream struct {
	data []byte
	off  int64
}

func newMemStream(data []byte) *memStream {
	return &memStream{data: data}
}

func (m *memStream) Read(p []byte) (int, error) {
	if m.off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.off:])
	m.off += int64(n)
	return n, nil
}

func (m *memStream) Write(p []byte) (int, error) {
	end := m.off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.off:end], p)
	m.off = end
	return len(p), nil
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.off + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, Error.New("invalid seek whence %d", whence)
	}
	if abs < 0 {
		return 0, Error.New("negative seek position %d", abs)
	}
	m.off = abs
	return abs, nil
}

func (m *memStream) Close() error { return nil }
