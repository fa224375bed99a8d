package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress renders one bar per in-flight upload on the server console.
type Progress struct {
	progress *mpb.Progress
	mu       sync.Mutex
	done     bool
}

// CopyN counts every byte read through it on bar.
type CopyN struct {
	reader io.Reader
	bar    *mpb.Bar
}

func (c *CopyN) Read(p []byte) (n int, err error) {
	n, err = c.reader.Read(p)
	c.bar.IncrBy(n)
	return
}

func New() *Progress {
	return &Progress{
		progress: mpb.New(),
	}
}

// NewWithOutput renders to w instead of stdout.
func NewWithOutput(w io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(w)),
	}
}

func (p *Progress) NewBar(n int64, text string) *mpb.Bar {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar := p.progress.AddBar(n,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: len(text) + 1, C: decor.DindentRight}),
			decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnAbort(
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace), "received"),
				"incomplete",
			),
		),
	)

	return bar
}

// Execute copies n bytes from src to dst, advancing bar as it goes.
func (p *Progress) Execute(dst io.Writer, src io.Reader, n int64, bar *mpb.Bar) (int64, error) {
	proxyReader := &CopyN{
		reader: src,
		bar:    bar,
	}
	return io.CopyN(dst, proxyReader, n)
}

// Wait blocks until every bar has completed or aborted. Only the first call
// waits; later calls return immediately.
func (p *Progress) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return
	}
	p.done = true

	p.progress.Wait()
}
