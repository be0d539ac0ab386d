package machine

import (
	"fmt"

	"github.com/me/threadsched/internal/hal"
	"github.com/me/threadsched/pkg/model"
)

// pagePool is a fixed set of pages handed out lowest-first.
type pagePool struct {
	free  []hal.Page
	inUse map[hal.Page]bool
}

func newPagePool(n int) *pagePool {
	p := &pagePool{
		free:  make([]hal.Page, 0, n),
		inUse: make(map[hal.Page]bool, n),
	}
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, hal.Page(i))
	}
	return p
}

func (p *pagePool) get() (hal.Page, error) {
	if len(p.free) == 0 {
		return 0, model.ErrNoMemory
	}
	pg := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[pg] = true
	return pg, nil
}

func (p *pagePool) put(pg hal.Page) error {
	if !p.inUse[pg] {
		return fmt.Errorf("page %d is not allocated", pg)
	}
	delete(p.inUse, pg)
	p.free = append(p.free, pg)
	return nil
}

func (p *pagePool) available() int {
	return len(p.free)
}
